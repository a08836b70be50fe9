package topic

import "github.com/AlephTX/shmipc/payload"

func validatePayload[T any]() error { return payload.Validate[T]() }

func elementSize[T any]() int { return payload.SizeOf[T]() }

func toBytes[T any](v *T) []byte { return payload.ToBytes(v) }

func fromBytes[T any](b []byte) T { return payload.FromBytes[T](b) }
