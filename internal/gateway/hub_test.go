package gateway

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/clipshare/server/internal/models"
)

type HubSuite struct {
	suite.Suite
}

func TestHubSuite(t *testing.T) {
	suite.Run(t, new(HubSuite))
}

func (s *HubSuite) drain(c *connection) []envelope {
	var out []envelope
	for {
		select {
		case e := <-c.send:
			out = append(out, e)
		default:
			return out
		}
	}
}

func (s *HubSuite) TestBroadcastReachesAllSubscribersExceptExcluded() {
	hub := NewHub()
	a := newConnection("conn-a", nil)
	b := newConnection("conn-b", nil)
	a.bind("room-1", "user-a", models.DeviceDesktop, "fp-a")
	b.bind("room-1", "user-b", models.DeviceMobile, "fp-b")

	hub.subscribe("room-1", a)
	hub.subscribe("room-1", b)

	hub.BroadcastToRoom("room-1", "userJoined", map[string]string{"userId": "user-a"}, "user-a")

	s.Empty(s.drain(a))
	received := s.drain(b)
	s.Require().Len(received, 1)
	s.Equal("userJoined", received[0].Event)
}

func (s *HubSuite) TestBroadcastIsRoomScoped() {
	hub := NewHub()
	a := newConnection("conn-a", nil)
	b := newConnection("conn-b", nil)
	a.bind("room-1", "user-a", models.DeviceDesktop, "fp-a")
	b.bind("room-2", "user-b", models.DeviceDesktop, "fp-b")

	hub.subscribe("room-1", a)
	hub.subscribe("room-2", b)

	hub.BroadcastToRoom("room-1", "message", "hello", "")

	s.Require().Len(s.drain(a), 1)
	s.Empty(s.drain(b))
}

func (s *HubSuite) TestSendToUserTargetsOneConnection() {
	hub := NewHub()
	a := newConnection("conn-a", nil)
	b := newConnection("conn-b", nil)
	a.bind("room-1", "user-a", models.DeviceDesktop, "fp-a")
	b.bind("room-1", "user-b", models.DeviceDesktop, "fp-b")

	hub.subscribe("room-1", a)
	hub.subscribe("room-1", b)

	hub.SendToUser("room-1", "user-b", "roomLinkGenerated", "link")

	s.Empty(s.drain(a))
	received := s.drain(b)
	s.Require().Len(received, 1)
	s.Equal("roomLinkGenerated", received[0].Event)
}

func (s *HubSuite) TestUnsubscribeRemovesConnectionFromRoom() {
	hub := NewHub()
	a := newConnection("conn-a", nil)
	a.bind("room-1", "user-a", models.DeviceDesktop, "fp-a")
	hub.subscribe("room-1", a)

	hub.unsubscribe("room-1", a.id)
	hub.BroadcastToRoom("room-1", "message", "hello", "")

	s.Empty(s.drain(a))
	s.Empty(hub.connectionsFor("room-1"))
}

func (s *HubSuite) TestNotifyRoomWrapsAsSystemMessage() {
	hub := NewHub()
	a := newConnection("conn-a", nil)
	a.bind("room-1", "user-a", models.DeviceDesktop, "fp-a")
	hub.subscribe("room-1", a)

	hub.NotifyRoom("room-1", "file_expired", map[string]string{"fileId": "abc"})

	received := s.drain(a)
	s.Require().Len(received, 1)
	s.Equal("systemMessage", received[0].Event)
	payload, ok := received[0].Payload.(map[string]interface{})
	s.Require().True(ok)
	s.Equal("file_expired", payload["kind"])
}

func TestConnectionEnqueueDropsOldestOnOverflow(t *testing.T) {
	c := newConnection("conn-a", nil)
	for i := 0; i < outboundQueueSize+5; i++ {
		c.enqueue("message", i)
	}
	if len(c.send) != outboundQueueSize {
		t.Fatalf("expected queue length %d, got %d", outboundQueueSize, len(c.send))
	}
	if first := <-c.send; first.Payload != 5 {
		t.Fatalf("expected oldest remaining payload 5, got %v", first.Payload)
	}
}
