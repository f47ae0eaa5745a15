package agent

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/quorumhq/space/internal/message"
	"github.com/quorumhq/space/internal/registry"
	"github.com/quorumhq/space/internal/tracecache"
	"github.com/quorumhq/space/internal/transport"
)

// bindAll wires a set of agents to a fresh Local transport and starts them,
// returning a cleanup func that stops every agent.
func bindAll(t *testing.T, tr *transport.Local, agents ...*Agent) func() {
	t.Helper()
	for _, a := range agents {
		inbox, err := tr.AddAgent(a.ID(), a.ReceiveOwnBroadcasts())
		if err != nil {
			t.Fatalf("AddAgent(%q): %v", a.ID(), err)
		}
		if err := a.Start(tr, inbox); err != nil {
			t.Fatalf("Start(%q): %v", a.ID(), err)
		}
	}
	return func() {
		for _, a := range agents {
			_ = a.Stop()
		}
	}
}

func mustNew(t *testing.T, id string, opts ...Option) *Agent {
	t.Helper()
	a, err := New(id, opts...)
	if err != nil {
		t.Fatalf("New(%q): %v", id, err)
	}
	return a
}

func TestCalculatorRequestResponse(t *testing.T) {
	calc := mustNew(t, "Calc")
	if err := calc.RegisterAction(registry.Descriptor{
		Name: "add",
		Args: map[string]registry.ArgSpec{
			"a": {Type: "int"},
			"b": {Type: "int"},
		},
		Returns: registry.ReturnSpec{Type: "int"},
		Access:  registry.Permitted,
		Handler: func(args map[string]any) (any, error) {
			a := args["a"].(int)
			b := args["b"].(int)
			return a + b, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	u := mustNew(t, "U")

	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, calc, u)
	defer cleanup()

	got, err := u.Request(message.Message{
		To:     "Calc",
		Action: message.Action{Name: "add", Args: map[string]any{"a": 1, "b": 2}},
	}, time.Second)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got != 3 {
		t.Fatalf("expected 3, got %v", got)
	}
}

func TestBroadcastSayExcludesSender(t *testing.T) {
	var bCalled, cCalled, aCalled atomic.Bool
	say := func(flag *atomic.Bool) registry.Handler {
		return func(args map[string]any) (any, error) {
			flag.Store(true)
			return nil, nil
		}
	}

	a := mustNew(t, "A", WithReceiveOwnBroadcasts(false))
	b := mustNew(t, "B")
	c := mustNew(t, "C")
	for _, pair := range []struct {
		ag   *Agent
		flag *atomic.Bool
	}{{a, &aCalled}, {b, &bCalled}, {c, &cCalled}} {
		if err := pair.ag.RegisterAction(registry.Descriptor{
			Name:    "say",
			Args:    map[string]registry.ArgSpec{"content": {Type: "string"}},
			Handler: say(pair.flag),
		}); err != nil {
			t.Fatal(err)
		}
	}

	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, a, b, c)
	defer cleanup()

	if _, err := a.Send(message.Message{
		To:     message.Broadcast,
		Action: message.Action{Name: "say", Args: map[string]any{"content": "hi"}},
	}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	if !bCalled.Load() || !cCalled.Load() {
		t.Error("expected both B and C to have handled the broadcast")
	}
	if aCalled.Load() {
		t.Error("expected A (sender) to not handle its own broadcast")
	}
}

func TestDeniedActionNeverInvokesHandler(t *testing.T) {
	invoked := false
	host := mustNew(t, "Host")
	if err := host.RegisterAction(registry.Descriptor{
		Name:   "delete_file",
		Args:   map[string]registry.ArgSpec{"path": {Type: "string"}},
		Access: registry.Denied,
		Handler: func(args map[string]any) (any, error) {
			invoked = true
			return nil, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	var gotErr *message.ActionError
	sender := mustNew(t, "Sender", WithHandleActionError(func(a *Agent, err *message.ActionError, orig *message.Message) {
		gotErr = err
	}))

	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, host, sender)
	defer cleanup()

	if _, err := sender.Send(message.Message{
		To:     "Host",
		Action: message.Action{Name: "delete_file", Args: map[string]any{"path": "/etc/passwd"}},
	}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	if invoked {
		t.Error("expected handler to not be invoked for a denied action")
	}
	if gotErr == nil || gotErr.Kind != message.ErrAccessDenied {
		t.Fatalf("expected access-denied error, got %+v", gotErr)
	}
}

func TestRequiresConfirmationRejected(t *testing.T) {
	invoked := false
	host := mustNew(t, "Host", WithRequestPermission(func(proposed *message.Message) (bool, error) {
		return false, nil
	}))
	if err := host.RegisterAction(registry.Descriptor{
		Name:   "shell_command",
		Args:   map[string]registry.ArgSpec{"cmd": {Type: "string"}},
		Access: registry.RequiresConfirmation,
		Handler: func(args map[string]any) (any, error) {
			invoked = true
			return nil, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	u := mustNew(t, "U")
	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, host, u)
	defer cleanup()

	_, err := u.Request(message.Message{
		To:     "Host",
		Action: message.Action{Name: "shell_command", Args: map[string]any{"cmd": "rm -rf /"}},
	}, time.Second)

	if invoked {
		t.Error("expected handler to not be invoked when permission is rejected")
	}
	var actionErr *message.ActionError
	if err == nil {
		t.Fatal("expected an error")
	}
	if ae, ok := err.(*message.ActionError); ok {
		actionErr = ae
	}
	if actionErr == nil || actionErr.Kind != message.ErrAccessDenied {
		t.Fatalf("expected access-denied, got %v", err)
	}
}

func TestRequiresConfirmationAllowed(t *testing.T) {
	invoked := false
	host := mustNew(t, "Host", WithRequestPermission(func(proposed *message.Message) (bool, error) {
		return true, nil
	}))
	if err := host.RegisterAction(registry.Descriptor{
		Name:   "shell_command",
		Args:   map[string]registry.ArgSpec{"cmd": {Type: "string"}},
		Access: registry.RequiresConfirmation,
		Handler: func(args map[string]any) (any, error) {
			invoked = true
			return "ran", nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	u := mustNew(t, "U")
	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, host, u)
	defer cleanup()

	got, err := u.Request(message.Message{
		To:     "Host",
		Action: message.Action{Name: "shell_command", Args: map[string]any{"cmd": "ls"}},
	}, time.Second)
	if err != nil {
		t.Fatalf("expected success when permission granted, got %v", err)
	}
	if !invoked {
		t.Error("expected handler to be invoked when permission is granted")
	}
	if got != "ran" {
		t.Fatalf("expected \"ran\", got %v", got)
	}
}

func TestNoSuchActionPointToPointVsBroadcast(t *testing.T) {
	chatty := mustNew(t, "Chatty")

	var gotErr *message.ActionError
	sender := mustNew(t, "Sender", WithHandleActionError(func(a *Agent, err *message.ActionError, orig *message.Message) {
		gotErr = err
	}))

	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, chatty, sender)
	defer cleanup()

	if _, err := sender.Send(message.Message{To: "Chatty", Action: message.Action{Name: "nope", Args: map[string]any{}}}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if gotErr == nil || gotErr.Kind != message.ErrNoSuchAction {
		t.Fatalf("expected no-such-action for point-to-point, got %+v", gotErr)
	}

	gotErr = nil
	if _, err := sender.Send(message.Message{To: message.Broadcast, Action: message.Action{Name: "nope", Args: map[string]any{}}}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if gotErr != nil {
		t.Fatalf("expected no error for broadcast to unsupported action, got %+v", gotErr)
	}
}

func TestRequestTimeoutThenLateReplyIsHarmless(t *testing.T) {
	slow := mustNew(t, "Slow")
	if err := slow.RegisterAction(registry.Descriptor{
		Name: "sleep",
		Args: map[string]registry.ArgSpec{"ms": {Type: "int"}},
		Handler: func(args map[string]any) (any, error) {
			ms := args["ms"].(int)
			time.Sleep(time.Duration(ms) * time.Millisecond)
			return "done", nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	u := mustNew(t, "U")
	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, slow, u)
	defer cleanup()

	_, err := u.Request(message.Message{
		To:     "Slow",
		Action: message.Action{Name: "sleep", Args: map[string]any{"ms": 500}},
	}, 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	actionErr, ok := err.(*message.ActionError)
	if !ok || actionErr.Kind != message.ErrTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}

	// The late reply for the first request arrives ~400ms after the
	// timeout with no waiter registered; it must not disturb a later,
	// independent request.
	value, err := u.Request(message.Message{
		To:     "Slow",
		Action: message.Action{Name: "sleep", Args: map[string]any{"ms": 10}},
	}, time.Second)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if value != "done" {
		t.Fatalf("expected \"done\", got %v", value)
	}
}

func TestRecursiveSelfRequestRejected(t *testing.T) {
	loop := mustNew(t, "Loop")
	if err := loop.RegisterAction(registry.Descriptor{
		Name: "trigger",
		Handler: func(args map[string]any) (any, error) {
			_, err := loop.Request(message.Message{
				To:     "Loop",
				Action: message.Action{Name: "trigger", Args: map[string]any{}},
			}, time.Second)
			return nil, err
		},
	}); err != nil {
		t.Fatal(err)
	}

	u := mustNew(t, "U")
	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, loop, u)
	defer cleanup()

	_, err := u.Request(message.Message{
		To:     "Loop",
		Action: message.Action{Name: "trigger", Args: map[string]any{}},
	}, time.Second)
	if err == nil {
		t.Fatal("expected an error: the handler's own recursive request must fail immediately")
	}
	actionErr, ok := err.(*message.ActionError)
	if !ok || actionErr.Kind != message.ErrRecursiveReq {
		t.Fatalf("expected recursive-request error to propagate out as the handler's error, got %v", err)
	}
}

func TestSendRejectsForgedFrom(t *testing.T) {
	u := mustNew(t, "U")
	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, u)
	defer cleanup()

	_, err := u.Send(message.Message{
		From:   "not-U",
		To:     "*",
		Action: message.Action{Name: "say", Args: map[string]any{"content": "hi"}},
	})
	if err == nil {
		t.Fatal("expected schema error for caller-forged from")
	}
	if _, ok := err.(*message.SchemaError); !ok {
		t.Fatalf("expected *message.SchemaError, got %T: %v", err, err)
	}
}

func TestRequestRejectsForgedFrom(t *testing.T) {
	calc := mustNew(t, "Calc")
	if err := calc.RegisterAction(registry.Descriptor{
		Name:    "add",
		Handler: func(args map[string]any) (any, error) { return 0, nil },
	}); err != nil {
		t.Fatal(err)
	}

	u := mustNew(t, "U")
	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, calc, u)
	defer cleanup()

	_, err := u.Request(message.Message{
		From:   "not-U",
		To:     "Calc",
		Action: message.Action{Name: "add", Args: map[string]any{"a": 1, "b": 2}},
	}, time.Second)
	if err == nil {
		t.Fatal("expected schema error for caller-forged from")
	}
	if _, ok := err.(*message.SchemaError); !ok {
		t.Fatalf("expected *message.SchemaError, got %T: %v", err, err)
	}
}

func TestHelpListsEveryActionIncludingHelp(t *testing.T) {
	calc := mustNew(t, "Calc")
	if err := calc.RegisterAction(registry.Descriptor{
		Name:        "add",
		Description: "adds two ints",
		Args:        map[string]registry.ArgSpec{"a": {Type: "int"}, "b": {Type: "int"}},
		Returns:     registry.ReturnSpec{Type: "int"},
		Handler:     func(args map[string]any) (any, error) { return 0, nil },
	}); err != nil {
		t.Fatal(err)
	}

	u := mustNew(t, "U")
	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, calc, u)
	defer cleanup()

	got, err := u.Request(message.Message{To: "Calc", Action: message.Action{Name: "help", Args: map[string]any{}}}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	entries, ok := got.(map[string]registry.Entry)
	if !ok {
		t.Fatalf("expected map[string]registry.Entry, got %T", got)
	}
	if _, ok := entries["help"]; !ok {
		t.Error("expected help's own entry to be listed")
	}
	if _, ok := entries["add"]; !ok {
		t.Error("expected add's entry to be listed")
	}
}

func TestHelpSingleActionLookup(t *testing.T) {
	calc := mustNew(t, "Calc")
	if err := calc.RegisterAction(registry.Descriptor{
		Name:        "add",
		Description: "adds two ints",
		Handler:     func(args map[string]any) (any, error) { return 0, nil },
	}); err != nil {
		t.Fatal(err)
	}

	u := mustNew(t, "U")
	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, calc, u)
	defer cleanup()

	got, err := u.Request(message.Message{
		To:     "Calc",
		Action: message.Action{Name: "help", Args: map[string]any{"action_name": "add"}},
	}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := got.(registry.Entry)
	if !ok || entry.Description != "adds two ints" {
		t.Fatalf("expected add's entry, got %v (%T)", got, got)
	}

	got, err = u.Request(message.Message{
		To:     "Calc",
		Action: message.Action{Name: "help", Args: map[string]any{"action_name": "nonexistent"}},
	}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := got.(map[string]any); !ok || len(m) != 0 {
		t.Fatalf("expected empty mapping for unknown action, got %v (%T)", got, got)
	}
}

func TestDuplicateActionNameRejected(t *testing.T) {
	a := mustNew(t, "A")
	if err := a.RegisterAction(registry.Descriptor{Name: "x", Handler: func(map[string]any) (any, error) { return nil, nil }}); err != nil {
		t.Fatal(err)
	}
	if err := a.RegisterAction(registry.Descriptor{Name: "x", Handler: func(map[string]any) (any, error) { return nil, nil }}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRespondWithSuppressesAutoReply(t *testing.T) {
	a := mustNew(t, "A")
	if err := a.RegisterAction(registry.Descriptor{
		Name: "explicit",
		Handler: func(args map[string]any) (any, error) {
			if err := a.RespondWith("explicit-value"); err != nil {
				t.Error(err)
			}
			return "should-be-ignored", nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	u := mustNew(t, "U")
	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, a, u)
	defer cleanup()

	got, err := u.Request(message.Message{To: "A", Action: message.Action{Name: "explicit", Args: map[string]any{}}}, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if got != "explicit-value" {
		t.Fatalf("expected explicit-value (not the auto-reply value), got %v", got)
	}
}

func TestTraceCacheRecordsHandledMessages(t *testing.T) {
	cache := tracecache.New()
	echo := mustNew(t, "Echo", WithTraceCache(cache))
	if err := echo.RegisterAction(registry.Descriptor{
		Name:    "ping",
		Handler: func(args map[string]any) (any, error) { return "pong", nil },
	}); err != nil {
		t.Fatal(err)
	}

	u := mustNew(t, "U")
	tr := transport.NewLocal()
	cleanup := bindAll(t, tr, echo, u)
	defer cleanup()

	if _, err := u.Request(message.Message{To: "Echo", Action: message.Action{Name: "ping", Args: map[string]any{}}}, time.Second); err != nil {
		t.Fatal(err)
	}

	traced := echo.Trace()
	if len(traced) != 1 {
		t.Fatalf("expected 1 traced entry, got %d", len(traced))
	}
	if traced[0].ActionName != "ping" || traced[0].From != "U" {
		t.Fatalf("unexpected trace entry: %+v", traced[0])
	}

	if got := u.Trace(); got != nil {
		t.Fatalf("expected nil trace for agent without WithTraceCache, got %+v", got)
	}
}
