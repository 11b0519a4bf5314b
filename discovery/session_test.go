package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"nearchat/models"
)

const testServiceID = "_nearchat-test._tcp"

func newTestSession(t *testing.T, proximity *fakeProximity, lookup *fakeLookup, observer Observer) *Session {
	t.Helper()

	session, err := NewSession(SessionOptions{
		Proximity: proximity,
		Lookup:    lookup,
		SelfID:    "U1",
		ServiceID: testServiceID,
		Observer:  observer,
	})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	t.Cleanup(session.Stop)
	return session
}

func TestSessionFoundThenLost(t *testing.T) {
	proximity := &fakeProximity{}
	lookup := newFakeLookup(models.UserProfile{UserID: "U2", DisplayName: "Bob", ShareableID: "XYZ"})
	observer := &recordingObserver{}
	session := newTestSession(t, proximity, lookup, observer)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if proximity.serviceID != testServiceID {
		t.Fatalf("expected discovery under %q, got %q", testServiceID, proximity.serviceID)
	}

	proximity.currentHandler().OnEndpointFound("e1", "U2")
	waitForCondition(t, time.Second, func() bool { return session.Cache().Len() == 1 })

	peer, ok := session.Cache().Get("e1")
	want := models.DiscoveredPeer{EndpointID: "e1", UserID: "U2", DisplayName: "Bob", ShareableID: "XYZ"}
	if !ok || peer != want {
		t.Fatalf("unexpected cached peer: got %+v want %+v", peer, want)
	}

	proximity.currentHandler().OnEndpointLost("e1")
	waitForCondition(t, time.Second, func() bool { return session.Cache().Len() == 0 })

	added, removed := observer.counts()
	if added != 1 || removed != 1 {
		t.Fatalf("expected one add and one remove notification, got %d/%d", added, removed)
	}
}

func TestSessionIgnoresSelfDiscovery(t *testing.T) {
	proximity := &fakeProximity{}
	lookup := newFakeLookup(models.UserProfile{UserID: "U1", DisplayName: "Me", ShareableID: "ME"})
	session := newTestSession(t, proximity, lookup, nil)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	session.OnEndpointFound("self-endpoint", "U1")
	settle()

	if session.Cache().Len() != 0 {
		t.Fatalf("expected self discovery to be ignored")
	}
	if lookup.callCount() != 0 {
		t.Fatalf("expected no lookup for self discovery, got %d", lookup.callCount())
	}
}

func TestSessionDropsPeerWhenLookupFails(t *testing.T) {
	proximity := &fakeProximity{}
	session := newTestSession(t, proximity, newFakeLookup(), nil)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	session.OnEndpointFound("e1", "unknown-user")
	settle()

	if session.Cache().Len() != 0 {
		t.Fatalf("expected unresolved peer to be dropped")
	}
	if !session.Active() {
		t.Fatalf("lookup failure must not end the session")
	}
}

func TestSessionSecondFoundForSameEndpointIsNoop(t *testing.T) {
	proximity := &fakeProximity{}
	lookup := newFakeLookup(
		models.UserProfile{UserID: "U2", DisplayName: "Bob", ShareableID: "XYZ"},
		models.UserProfile{UserID: "U3", DisplayName: "Carol", ShareableID: "ABC"},
	)
	session := newTestSession(t, proximity, lookup, nil)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	session.OnEndpointFound("e1", "U2")
	session.OnEndpointFound("e1", "U3")
	waitForCondition(t, time.Second, func() bool { return session.Cache().Len() == 1 })
	settle()

	peer, _ := session.Cache().Get("e1")
	if peer.UserID != "U2" {
		t.Fatalf("expected first found-event to win, got %+v", peer)
	}

	session.OnEndpointFound("e1", "U3")
	settle()
	peer, _ = session.Cache().Get("e1")
	if peer.UserID != "U2" {
		t.Fatalf("expected resolved endpoint never to be overwritten, got %+v", peer)
	}
}

func TestSessionLostDuringLookupDropsLateResult(t *testing.T) {
	proximity := &fakeProximity{}
	lookup := newFakeLookup(models.UserProfile{UserID: "U2", DisplayName: "Bob", ShareableID: "XYZ"})
	gate := lookup.gate("U2")
	session := newTestSession(t, proximity, lookup, nil)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	session.OnEndpointFound("e1", "U2")
	waitForCondition(t, time.Second, func() bool { return lookup.callCount() == 1 })
	session.OnEndpointLost("e1")
	settle()
	close(gate)
	settle()

	if session.Cache().Len() != 0 {
		t.Fatalf("expected lookup finishing after lost-event to be ignored")
	}
}

func TestSessionStopMakesLateCallbacksNoops(t *testing.T) {
	proximity := &fakeProximity{}
	lookup := newFakeLookup(
		models.UserProfile{UserID: "U2", DisplayName: "Bob", ShareableID: "XYZ"},
		models.UserProfile{UserID: "U3", DisplayName: "Carol", ShareableID: "ABC"},
	)
	gate := lookup.gate("U3")
	observer := &recordingObserver{}
	session := newTestSession(t, proximity, lookup, observer)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	staleHandler := proximity.currentHandler()

	staleHandler.OnEndpointFound("e1", "U2")
	waitForCondition(t, time.Second, func() bool { return session.Cache().Len() == 1 })
	staleHandler.OnEndpointFound("e2", "U3")
	waitForCondition(t, time.Second, func() bool { return lookup.callCount() == 2 })

	session.Stop()
	if session.Active() {
		t.Fatalf("expected session to be inactive after Stop")
	}
	if session.Cache().Len() != 0 {
		t.Fatalf("expected teardown to clear the cache")
	}
	if proximity.discoverStops != 1 {
		t.Fatalf("expected StopDiscovery once, got %d", proximity.discoverStops)
	}

	close(gate)
	staleHandler.OnEndpointFound("e3", "U2")
	settle()
	if session.Cache().Len() != 0 {
		t.Fatalf("expected late callbacks after Stop to be no-ops")
	}

	// A new run ignores callbacks bound to the previous one.
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	staleHandler.OnEndpointFound("e4", "U2")
	settle()
	if session.Cache().Len() != 0 {
		t.Fatalf("expected stale handler to stay inert after restart")
	}

	_, removed := observer.counts()
	if removed != 1 {
		t.Fatalf("expected one removal notification from teardown, got %d", removed)
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	proximity := &fakeProximity{}
	session := newTestSession(t, proximity, newFakeLookup(), nil)

	session.Stop()
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session.Stop()
	session.Stop()

	if proximity.discoverStops != 1 {
		t.Fatalf("expected a single StopDiscovery, got %d", proximity.discoverStops)
	}
}

func TestSessionStartFailureIsTerminal(t *testing.T) {
	startErr := errors.New("radio off")
	proximity := &fakeProximity{discoveryErr: startErr}
	session := newTestSession(t, proximity, newFakeLookup(), nil)

	err := session.Start(context.Background())
	if !errors.Is(err, startErr) {
		t.Fatalf("expected wrapped start error, got %v", err)
	}
	if session.Active() {
		t.Fatalf("expected failed session to be inactive")
	}
	settle()
	if proximity.discoverStarts != 1 {
		t.Fatalf("expected no automatic retry, got %d start attempts", proximity.discoverStarts)
	}

	session.OnEndpointFound("e1", "U2")
	if session.Cache().Len() != 0 {
		t.Fatalf("expected callbacks on a failed session to be ignored")
	}
}

func TestSessionRequiresPermissions(t *testing.T) {
	proximity := &fakeProximity{}
	session, err := NewSession(SessionOptions{
		Proximity:   proximity,
		Lookup:      newFakeLookup(),
		SelfID:      "U1",
		ServiceID:   testServiceID,
		Permissions: PermissionsFunc(func() bool { return false }),
	})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := session.Start(context.Background()); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if proximity.discoverStarts != 0 {
		t.Fatalf("expected discovery not to be requested without permissions")
	}
}

func TestSessionStartTwiceReportsActive(t *testing.T) {
	session := newTestSession(t, &fakeProximity{}, newFakeLookup(), nil)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := session.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}
}

func TestSessionSameUserUnderTwoEndpoints(t *testing.T) {
	proximity := &fakeProximity{}
	lookup := newFakeLookup(models.UserProfile{UserID: "U2", DisplayName: "Bob", ShareableID: "XYZ"})
	session := newTestSession(t, proximity, lookup, nil)

	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	session.OnEndpointFound("e1", "U2")
	session.OnEndpointFound("e2", "U2")
	waitForCondition(t, time.Second, func() bool { return session.Cache().Len() == 2 })
}
