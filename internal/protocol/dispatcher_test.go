package protocol

import (
	"context"
	"errors"
	"testing"
)

type fakeHandler struct {
	subs    map[string]string
	running []string
}

func (h *fakeHandler) Subscribe(_ context.Context, req Subscribe) (string, Subscribed, func(), error) {
	if req.SQL == "DELETE FROM items" {
		return "", Subscribed{}, nil, errors.New("only SELECT statements are supported")
	}
	id := req.ID
	if id == "" {
		id = "generated"
	}
	h.subs[id] = req.SQL
	return id, Subscribed{SQL: req.SQL, Queries: []string{"items"}}, func() { h.running = append(h.running, id) }, nil
}

func (h *fakeHandler) Unsubscribe(id string) bool {
	_, ok := h.subs[id]
	delete(h.subs, id)
	return ok
}

func (h *fakeHandler) Classify(error) string { return "validation" }

func TestHandleMessage(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		wantType string
		wantID   string
		wantErr  string
	}{
		{"ping", `{"type":"ping","id":"p"}`, TypePong, "p", ""},
		{"subscribe", `{"type":"subscribe","id":"q1","sql":"SELECT * FROM items"}`, TypeSubscribed, "q1", ""},
		{"subscribe generated id", `{"type":"SUBSCRIBE","sql":"SELECT * FROM items"}`, TypeSubscribed, "generated", ""},
		{"subscribe without sql", `{"type":"subscribe","id":"q2"}`, TypeError, "q2", "missing SQL"},
		{"subscribe rejected", `{"type":"subscribe","id":"q3","sql":"DELETE FROM items"}`, TypeError, "q3", "only SELECT statements are supported"},
		{"unsubscribe", `{"type":"unsubscribe","id":"q1"}`, TypeUnsubscribed, "q1", ""},
		{"unsubscribe twice", `{"type":"unsubscribe","id":"q1"}`, TypeError, "q1", "unknown subscription"},
		{"unknown type", `{"type":"shout"}`, TypeError, "", "unknown message type shout"},
		{"bad json", `{"type":`, TypeError, "", "invalid JSON"},
	}

	h := &fakeHandler{subs: map[string]string{}}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var got []Outbound
			err := HandleMessage(context.Background(), []byte(c.in), h, func(o Outbound) error {
				got = append(got, o)
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 {
				t.Fatalf("sent %d messages", len(got))
			}
			o := got[0]
			if o.Type != c.wantType || o.ID != c.wantID {
				t.Fatalf("got %s/%q, want %s/%q", o.Type, o.ID, c.wantType, c.wantID)
			}
			if c.wantErr != "" {
				ed, ok := o.Data.(ErrorData)
				if !ok || ed.Error != c.wantErr {
					t.Fatalf("error data = %#v, want %q", o.Data, c.wantErr)
				}
			}
		})
	}
}

func TestSubscribeStartsAfterReply(t *testing.T) {
	h := &fakeHandler{subs: map[string]string{}}
	err := HandleMessage(context.Background(), []byte(`{"type":"subscribe","id":"q","sql":"SELECT 1"}`), h,
		func(o Outbound) error {
			if len(h.running) != 0 {
				t.Fatal("streaming started before the reply")
			}
			return nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if len(h.running) != 1 {
		t.Fatalf("running = %v", h.running)
	}
}

func TestSubscribeUndoneWhenReplyFails(t *testing.T) {
	h := &fakeHandler{subs: map[string]string{}}
	boom := errors.New("closed")
	err := HandleMessage(context.Background(), []byte(`{"type":"subscribe","id":"q","sql":"SELECT 1"}`), h,
		func(Outbound) error { return boom })
	if !errors.Is(err, boom) || len(h.subs) != 0 || len(h.running) != 0 {
		t.Fatalf("err=%v subs=%v running=%v", err, h.subs, h.running)
	}
}

func TestHandleMessageReturnsSendError(t *testing.T) {
	boom := errors.New("closed")
	err := HandleMessage(context.Background(), []byte(`{"type":"ping"}`), &fakeHandler{}, func(Outbound) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

func TestRegistryCancels(t *testing.T) {
	r := NewRegistry()
	var cancelled []string
	add := func(id string) {
		if err := r.Add(&Subscription{ID: id, Cancel: func() { cancelled = append(cancelled, id) }}); err != nil {
			t.Fatal(err)
		}
	}
	add("a")
	add("b")
	if err := r.Add(&Subscription{ID: "a"}); err == nil {
		t.Fatal("duplicate id accepted")
	}
	if !r.Remove("a") || r.Remove("a") {
		t.Fatal("Remove should succeed exactly once")
	}
	r.CancelAll()
	if r.Len() != 0 || len(cancelled) != 2 {
		t.Fatalf("len=%d cancelled=%v", r.Len(), cancelled)
	}
}

func TestRegistryForgetKeepsNewer(t *testing.T) {
	r := NewRegistry()
	old := &Subscription{ID: "q"}
	_ = r.Add(old)
	r.Remove("q")
	newer := &Subscription{ID: "q"}
	_ = r.Add(newer)
	r.Forget(old)
	if r.Len() != 1 {
		t.Fatal("newer subscription was forgotten")
	}
	r.Forget(newer)
	if r.Len() != 0 {
		t.Fatal("subscription not forgotten")
	}
}
