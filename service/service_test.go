package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlephTX/shmipc/segment"
)

type addReq struct {
	A, B int64
}

type addRes struct {
	Sum int64
}

func uniqueName(t *testing.T) string {
	return fmt.Sprintf("shmipc-service-test-%s-%d", t.Name(), time.Now().UnixNano())
}

func Test_ServerClient_CallReturnsHandlerResult(t *testing.T) {
	name := uniqueName(t)

	srv, err := NewServer[addReq, addRes](name, segment.DefaultPerm, func(r addReq) addRes {
		return addRes{Sum: r.A + r.B}
	})
	require.NoError(t, err)
	defer srv.CloseAndUnlink()

	client, err := NewClient[addReq, addRes](name, segment.DefaultPerm)
	require.NoError(t, err)
	defer client.Close()

	res, ok := client.Call(addReq{A: 2, B: 3}, time.Second)
	require.True(t, ok)
	assert.Equal(t, int64(5), res.Sum)
}

func Test_Client_CallTimesOutWithoutServer(t *testing.T) {
	name := uniqueName(t)

	client, err := NewClient[addReq, addRes](name, segment.DefaultPerm)
	require.NoError(t, err)
	defer client.Close()

	_, ok := client.Call(addReq{A: 1, B: 1}, 50*time.Millisecond)
	assert.False(t, ok)
}

func Test_Client_SequentialCallsEachGetOwnResponse(t *testing.T) {
	name := uniqueName(t)

	srv, err := NewServer[addReq, addRes](name, segment.DefaultPerm, func(r addReq) addRes {
		return addRes{Sum: r.A * r.B}
	})
	require.NoError(t, err)
	defer srv.CloseAndUnlink()

	client, err := NewClient[addReq, addRes](name, segment.DefaultPerm)
	require.NoError(t, err)
	defer client.Close()

	for i := int64(1); i <= 5; i++ {
		res, ok := client.Call(addReq{A: i, B: 2}, time.Second)
		require.True(t, ok)
		assert.Equal(t, i*2, res.Sum)
	}
}

func Test_Server_CloseStopsWorker(t *testing.T) {
	name := uniqueName(t)

	srv, err := NewServer[addReq, addRes](name, segment.DefaultPerm, func(r addReq) addRes {
		return addRes{Sum: r.A + r.B}
	})
	require.NoError(t, err)

	require.NoError(t, srv.Close())
}
