package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus, err := NewBus(16)
	require.NoError(t, err)

	handled := make(chan *Event[TaskCreatedData], 1)
	Subscribe(bus, TaskCreated, "test-handler", func(_ context.Context, e *Event[TaskCreatedData]) error {
		handled <- e
		return nil
	})

	go bus.Start(ctx)
	<-bus.Running()
	defer bus.Stop()

	bus.Publish(ctx, TaskCreated, "scheduler", TaskCreatedData{
		TaskID:       "plan",
		Priority:     "high",
		RequiredRole: "planner",
	})

	select {
	case e := <-handled:
		assert.Equal(t, TaskCreated, e.Type)
		assert.Equal(t, "scheduler", e.Source)
		assert.Equal(t, "plan", e.Data.TaskID)
		assert.Equal(t, "planner", e.Data.RequiredRole)
		assert.NotEmpty(t, e.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("event was not handled within timeout")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus, err := NewBus(16)
	require.NoError(t, err)

	handled1 := make(chan bool, 1)
	handled2 := make(chan bool, 1)
	Subscribe(bus, AgentCreated, "handler1", func(_ context.Context, e *Event[AgentCreatedData]) error {
		handled1 <- true
		return nil
	})
	Subscribe(bus, AgentCreated, "handler2", func(_ context.Context, e *Event[AgentCreatedData]) error {
		handled2 <- true
		return nil
	})

	go bus.Start(ctx)
	<-bus.Running()
	defer bus.Stop()

	bus.Publish(ctx, AgentCreated, "registry", AgentCreatedData{AgentID: "coder-1", Role: "coder"})

	for i, ch := range []chan bool{handled1, handled2} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("handler %d did not receive event", i+1)
		}
	}
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	bus, err := NewBus(16)
	require.NoError(t, err)
	defer bus.Stop()

	// Must not block or fail.
	bus.Publish(context.Background(), TaskFailed, "scheduler", TaskFailedData{TaskID: "t1"})
}

func TestBus_NilSafePublish(t *testing.T) {
	var bus *Bus
	bus.Publish(context.Background(), TaskCreated, "scheduler", TaskCreatedData{TaskID: "t1"})
}
