// Package layout implements LayoutCalculator: the pure function mapping
// (element_size, slot_count) — or the service/action equivalents — to the
// byte offsets of every field in a segment, honoring platform alignment
// (spec.md §4.2).
//
// Two participants computing the layout for the same inputs on the same
// platform always produce identical offsets. Layouts are not portable
// across machine architectures.
package layout

import (
	"fmt"

	"github.com/AlephTX/shmipc/internal/shmsync"
)

// minAlign is the platform-minimum alignment spec.md requires (8 bytes on
// ARM; we apply it uniformly so a single computed layout is valid on every
// architecture this module supports).
const minAlign = 8

func alignOf(natural int) int {
	if natural < minAlign {
		return minAlign
	}
	return natural
}

// alignUp rounds offset up to a multiple of align.
func alignUp(offset, align int) int {
	if align <= 0 {
		return offset
	}
	rem := offset % align
	if rem == 0 {
		return offset
	}
	return offset + (align - rem)
}

// cursor walks fields in fixed order, tracking the running offset.
type cursor struct {
	offset int
}

func (c *cursor) place(size, naturalAlign int) int {
	c.offset = alignUp(c.offset, alignOf(naturalAlign))
	off := c.offset
	c.offset += size
	return off
}

const (
	flagSize   = 4
	flagAlign  = 4
	u64Size    = 8
	u64Align   = 8
	enumSize   = 4
	enumAlign  = 4
)

// RingLayout holds the byte offsets of every field of a topic ring-buffer
// segment, per the table in spec.md §3.
type RingLayout struct {
	InitFlagOffset        int
	PthreadInitFlagOffset int
	MutexOffset           int
	CondOffset            int
	ElementSizeOffset     int
	SlotCountOffset       int
	TimestampsOffset      int
	DataOffset            int

	ElementSize int
	SlotCount   int
	TotalSize   int64
}

// CalculateRingLayout computes the layout for a ring-buffer segment holding
// slotCount slots of elementSize bytes each.
func CalculateRingLayout(elementSize, slotCount int) (RingLayout, error) {
	if elementSize < 1 {
		return RingLayout{}, fmt.Errorf("layout: element_size must be >= 1, got %d", elementSize)
	}
	if slotCount < 1 {
		return RingLayout{}, fmt.Errorf("layout: slot_count must be >= 1, got %d", slotCount)
	}

	var c cursor
	l := RingLayout{ElementSize: elementSize, SlotCount: slotCount}

	l.InitFlagOffset = c.place(flagSize, flagAlign)
	l.PthreadInitFlagOffset = c.place(flagSize, flagAlign)
	l.MutexOffset = c.place(shmsync.MutexSize, shmsync.MutexAlign)
	l.CondOffset = c.place(shmsync.CondSize, shmsync.CondAlign)
	l.ElementSizeOffset = c.place(u64Size, u64Align)
	l.SlotCountOffset = c.place(u64Size, u64Align)
	l.TimestampsOffset = c.place(u64Size*slotCount, u64Align)
	l.DataOffset = c.place(elementSize*slotCount, minAlign)

	l.TotalSize = int64(c.offset)
	return l, nil
}

// ServiceLayout holds the byte offsets for a two-channel service segment
// (request + response), per spec.md §4.5.
type ServiceLayout struct {
	InitFlagOffset        int
	PthreadInitFlagOffset int

	ReqMutexOffset     int
	ReqCondOffset      int
	ReqTimestampOffset int
	ReqPayloadOffset   int

	ResMutexOffset     int
	ResCondOffset      int
	ResTimestampOffset int
	ResPayloadOffset   int

	ReqSize   int
	ResSize   int
	TotalSize int64
}

// CalculateServiceLayout computes the layout for a service segment with the
// given request and response payload sizes.
func CalculateServiceLayout(reqSize, resSize int) (ServiceLayout, error) {
	if reqSize < 1 {
		return ServiceLayout{}, fmt.Errorf("layout: request size must be >= 1, got %d", reqSize)
	}
	if resSize < 1 {
		return ServiceLayout{}, fmt.Errorf("layout: response size must be >= 1, got %d", resSize)
	}

	var c cursor
	l := ServiceLayout{ReqSize: reqSize, ResSize: resSize}

	l.InitFlagOffset = c.place(flagSize, flagAlign)
	l.PthreadInitFlagOffset = c.place(flagSize, flagAlign)

	l.ReqMutexOffset = c.place(shmsync.MutexSize, shmsync.MutexAlign)
	l.ReqCondOffset = c.place(shmsync.CondSize, shmsync.CondAlign)
	l.ReqTimestampOffset = c.place(u64Size, u64Align)
	l.ReqPayloadOffset = c.place(reqSize, minAlign)

	l.ResMutexOffset = c.place(shmsync.MutexSize, shmsync.MutexAlign)
	l.ResCondOffset = c.place(shmsync.CondSize, shmsync.CondAlign)
	l.ResTimestampOffset = c.place(u64Size, u64Align)
	l.ResPayloadOffset = c.place(resSize, minAlign)

	l.TotalSize = int64(c.offset)
	return l, nil
}

// ActionLayout holds the byte offsets for an action segment (goal, result,
// feedback, status, cancel timestamp), per spec.md §4.6.
type ActionLayout struct {
	InitFlagOffset        int
	PthreadInitFlagOffset int

	GoalMutexOffset     int
	GoalCondOffset      int
	GoalTimestampOffset int
	GoalPayloadOffset   int

	ResultMutexOffset     int
	ResultCondOffset      int
	ResultTimestampOffset int
	ResultPayloadOffset   int

	FeedbackPayloadOffset int
	StatusOffset          int
	CancelTimestampOffset int

	GoalSize     int
	ResultSize   int
	FeedbackSize int
	TotalSize    int64
}

// CalculateActionLayout computes the layout for an action segment with the
// given goal, result and feedback payload sizes.
func CalculateActionLayout(goalSize, resultSize, feedbackSize int) (ActionLayout, error) {
	if goalSize < 1 {
		return ActionLayout{}, fmt.Errorf("layout: goal size must be >= 1, got %d", goalSize)
	}
	if resultSize < 1 {
		return ActionLayout{}, fmt.Errorf("layout: result size must be >= 1, got %d", resultSize)
	}
	if feedbackSize < 1 {
		return ActionLayout{}, fmt.Errorf("layout: feedback size must be >= 1, got %d", feedbackSize)
	}

	var c cursor
	l := ActionLayout{GoalSize: goalSize, ResultSize: resultSize, FeedbackSize: feedbackSize}

	l.InitFlagOffset = c.place(flagSize, flagAlign)
	l.PthreadInitFlagOffset = c.place(flagSize, flagAlign)

	l.GoalMutexOffset = c.place(shmsync.MutexSize, shmsync.MutexAlign)
	l.GoalCondOffset = c.place(shmsync.CondSize, shmsync.CondAlign)
	l.GoalTimestampOffset = c.place(u64Size, u64Align)
	l.GoalPayloadOffset = c.place(goalSize, minAlign)

	l.ResultMutexOffset = c.place(shmsync.MutexSize, shmsync.MutexAlign)
	l.ResultCondOffset = c.place(shmsync.CondSize, shmsync.CondAlign)
	l.ResultTimestampOffset = c.place(u64Size, u64Align)
	l.ResultPayloadOffset = c.place(resultSize, minAlign)

	l.FeedbackPayloadOffset = c.place(feedbackSize, minAlign)
	l.StatusOffset = c.place(enumSize, enumAlign)
	l.CancelTimestampOffset = c.place(u64Size, u64Align)

	l.TotalSize = int64(c.offset)
	return l, nil
}
