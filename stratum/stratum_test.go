package stratum

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestUnmarshalJob(t *testing.T) {
	s := &Stratum{}
	blob := `{"jsonrpc":"2.0","method":"job","params":{"blob":"0707` +
		`abcdef","job_id":"903346","target":"b88d0600","height":2286754}}`

	resp, err := s.Unmarshal([]byte(blob))
	if err != nil {
		t.Fatal(err)
	}
	job, ok := resp.(*Job)
	if !ok {
		t.Fatalf("Unmarshal() = %T, want *Job", resp)
	}
	if job.JobID != "903346" || job.Target != "b88d0600" || job.Height != 2286754 {
		t.Errorf("Unmarshal() = %+v", job)
	}
}

func TestUnmarshalJobMissingFields(t *testing.T) {
	s := &Stratum{}
	blob := `{"jsonrpc":"2.0","method":"job","params":{"target":"b88d0600"}}`
	if _, err := s.Unmarshal([]byte(blob)); err == nil {
		t.Fatal("Unmarshal() accepted a job without blob and job_id")
	}
}

func TestUnmarshalLoginReply(t *testing.T) {
	s := &Stratum{loginID: 1}
	blob := `{"id":1,"jsonrpc":"2.0","error":null,"result":{"id":"se0":` // malformed on purpose
	if _, err := s.Unmarshal([]byte(blob)); err == nil {
		t.Fatal("Unmarshal() accepted malformed json")
	}

	blob = `{"id":1,"jsonrpc":"2.0","error":null,"result":{"id":"session1",` +
		`"job":{"blob":"0707aa","job_id":"j1","target":"ffffffff","height":7},` +
		`"status":"OK"}}`
	resp, err := s.Unmarshal([]byte(blob))
	if err != nil {
		t.Fatal(err)
	}
	reply, ok := resp.(*LoginReply)
	if !ok {
		t.Fatalf("Unmarshal() = %T, want *LoginReply", resp)
	}
	if reply.ID != "session1" || reply.Status != "OK" || reply.Job == nil {
		t.Errorf("Unmarshal() = %+v", reply)
	}
	if reply.Job.JobID != "j1" {
		t.Errorf("job = %+v", reply.Job)
	}
}

func TestUnmarshalLoginError(t *testing.T) {
	s := &Stratum{loginID: 1}
	blob := `{"id":1,"jsonrpc":"2.0","error":{"code":-1,"message":` +
		`"Invalid address"},"result":null}`
	if _, err := s.Unmarshal([]byte(blob)); err == nil {
		t.Fatal("Unmarshal() accepted a login error as success")
	}
}

func TestUnmarshalSubmitReply(t *testing.T) {
	s := &Stratum{submitIDs: []uint64{5}}

	blob := `{"id":5,"jsonrpc":"2.0","error":null,"result":{"status":"OK"}}`
	resp, err := s.Unmarshal([]byte(blob))
	if err != nil {
		t.Fatal(err)
	}
	reply, ok := resp.(*BasicReply)
	if !ok {
		t.Fatalf("Unmarshal() = %T, want *BasicReply", resp)
	}
	if reply.Status != "OK" || reply.Error != nil {
		t.Errorf("Unmarshal() = %+v", reply)
	}

	blob = `{"id":5,"jsonrpc":"2.0","error":{"code":-1,` +
		`"message":"Low difficulty share"},"result":null}`
	resp, err = s.Unmarshal([]byte(blob))
	if err != nil {
		t.Fatal(err)
	}
	reply = resp.(*BasicReply)
	if reply.Error == nil || reply.Error.Message != "Low difficulty share" {
		t.Errorf("Unmarshal() = %+v", reply)
	}
}

func TestHandleBasicReplyAccounting(t *testing.T) {
	s := &Stratum{submitIDs: []uint64{3, 4}}

	s.handleBasicReply(&BasicReply{ID: 3, Status: "OK"})
	if s.ValidShares != 1 || s.InvalidShares != 0 {
		t.Errorf("shares = %d/%d after accept", s.ValidShares, s.InvalidShares)
	}
	s.handleBasicReply(&BasicReply{ID: 4, Error: &StratErr{Code: -1,
		Message: "Low difficulty share"}})
	if s.ValidShares != 1 || s.InvalidShares != 1 {
		t.Errorf("shares = %d/%d after reject", s.ValidShares, s.InvalidShares)
	}
	if len(s.submitIDs) != 0 {
		t.Errorf("submitIDs = %v, want empty", s.submitIDs)
	}
}

func TestPrepSubmit(t *testing.T) {
	s := &Stratum{ID: 10, sessionID: "sess"}
	s.PoolWork.JobID = "current"

	sub := Submit{JobID: "current", Nonce: 0x12345678, Hash: make([]byte, 32)}
	msg, err := s.PrepSubmit(sub)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Method != "submit" || msg.ID != 10 {
		t.Errorf("PrepSubmit() = %+v", msg)
	}
	params := msg.Params.(submitParams)
	if params.ID != "sess" || params.JobID != "current" {
		t.Errorf("params = %+v", params)
	}
	if params.Nonce != "78563412" {
		t.Errorf("nonce = %v, want 78563412", params.Nonce)
	}
	if !sliceContains(s.submitIDs, 10) {
		t.Error("submit id was not registered")
	}

	// The request must serialize into the wire shape pools expect.
	m, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var objmap map[string]json.RawMessage
	if err := json.Unmarshal(m, &objmap); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"id", "jsonrpc", "method", "params"} {
		if _, ok := objmap[key]; !ok {
			t.Errorf("marshalled request missing %q: %s", key, m)
		}
	}
}

func TestPrepSubmitStale(t *testing.T) {
	s := &Stratum{ID: 1}
	s.PoolWork.JobID = "new"

	_, err := s.PrepSubmit(Submit{JobID: "old", Nonce: 1, Hash: make([]byte, 32)})
	if !errors.Is(err, ErrStratumStaleWork) {
		t.Fatalf("PrepSubmit() error = %v, want stale", err)
	}
	if s.StaleShares != 1 {
		t.Errorf("StaleShares = %d, want 1", s.StaleShares)
	}
}

func TestSliceHelpers(t *testing.T) {
	s := []uint64{1, 2, 3}
	if !sliceContains(s, 2) || sliceContains(s, 4) {
		t.Error("sliceContains misbehaved")
	}
	s = sliceRemove(s, 2)
	if len(s) != 2 || sliceContains(s, 2) {
		t.Errorf("sliceRemove() = %v", s)
	}
	s = sliceRemove(s, 99)
	if len(s) != 2 {
		t.Errorf("sliceRemove(absent) = %v", s)
	}
}
