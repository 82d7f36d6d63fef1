package reactive

import (
	"errors"

	"github.com/zoravur/livesql/internal/docstore"
	"github.com/zoravur/livesql/internal/protocol"
)

// ResultSet is one complete, ordered answer to a live SQL statement.
type ResultSet []docstore.Document

// Rows returns the projected rows.
func (rs ResultSet) Rows() []map[string]any {
	out := make([]map[string]any, len(rs))
	for i, d := range rs {
		out[i] = d.Data
	}
	return out
}

// Keys returns the document keys in result order.
func (rs ResultSet) Keys() []string {
	out := make([]string, len(rs))
	for i, d := range rs {
		out[i] = d.Key
	}
	return out
}

type Client struct {
	// abstract over ws.Conn to avoid import cycles
	Send func(msgType string, payload any) error
}

// Stream sends every result set of s to the client until s ends, then
// reports a failure if there was one. Editable rows carry edit handles.
// The first send error cancels s and is returned.
func (c *Client) Stream(s *Subscription, editable bool) error {
	for rs := range s.Results() {
		var payload any = rs.Rows()
		if editable {
			payload = SerializeEditableRows(s.Plan, rs)
		}
		if err := c.Send(protocol.TypeResult, payload); err != nil {
			s.Cancel()
			for range s.Results() {
			}
			return err
		}
	}
	if err := s.Wait(); err != nil {
		kind := "source"
		var serr *SourceError
		if !errors.As(err, &serr) {
			kind = "internal"
		}
		return c.Send(protocol.TypeError, protocol.ErrorData{Error: err.Error(), Kind: kind})
	}
	return nil
}
