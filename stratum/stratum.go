// Copyright (c) 2016-2023 The Decred developers.

// Package stratum implements the cryptonight flavour of the stratum
// protocol: a login/job/submit JSON-RPC dialogue over a line-delimited
// TCP connection.
package stratum

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/go-socks/socks"

	"github.com/MrCyjaneK/go-cryptonight-miner/util"
	"github.com/MrCyjaneK/go-cryptonight-miner/work"
)

// ErrStratumStaleWork indicates that the work to send to the pool was stale.
var ErrStratumStaleWork = fmt.Errorf("stale work, throwing away")

// keepAliveInterval is how often an idle connection pings the pool so
// it is not reaped.
const keepAliveInterval = 60 * time.Second

// Stratum holds all the shared information for a stratum connection.
type Stratum struct {
	// The following variables must only be used atomically.
	ValidShares   uint64
	InvalidShares uint64
	StaleShares   uint64

	sync.Mutex
	cfg       Config
	Conn      net.Conn
	Reader    *bufio.Reader
	ID        uint64
	loginID   uint64
	sessionID string
	submitIDs []uint64
	PoolWork  NotifyWork

	Started uint32
}

// Config holds the config options that may be used by a stratum pool.
type Config struct {
	Pool      string
	User      string
	Pass      string
	Proxy     string
	ProxyUser string
	ProxyPass string
	Agent     string
}

// NotifyWork holds the info received from a job message along with the
// Work data generated from it.
type NotifyWork struct {
	Blob    string
	JobID   string
	Target  string
	Height  int64
	NewWork bool
	Work    *work.Work
}

// Request is the basic message object sent to stratum.
type Request struct {
	ID      uint64      `json:"id"`
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// loginParams is the params object of a login request.
type loginParams struct {
	Login string `json:"login"`
	Pass  string `json:"pass"`
	Agent string `json:"agent"`
}

// submitParams is the params object of a share submission.
type submitParams struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Nonce  string `json:"nonce"`
	Result string `json:"result"`
}

// Job models the hashing job a pool hands out, either inside the login
// reply or as a standalone push message.
type Job struct {
	Blob   string `json:"blob"`
	JobID  string `json:"job_id"`
	Target string `json:"target"`
	Height int64  `json:"height"`
}

// LoginReply models the result member of a login response.
type LoginReply struct {
	ID     string `json:"id"`
	Job    *Job   `json:"job"`
	Status string `json:"status"`
}

// StratErr is the error type (a number and a string) sent by the
// stratum server.
type StratErr struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// BasicReply is a reply type for any of the simple messages.
type BasicReply struct {
	ID     uint64
	Error  *StratErr
	Status string
}

// Submit carries one solved share from a device to the pool.
type Submit struct {
	JobID string
	Nonce uint32
	Hash  []byte
}

// errJSONType is an error for json that we do not expect.
var errJSONType = errors.New("unexpected type in json")

func sliceContains(s []uint64, e uint64) bool {
	for _, a := range s {
		if a == e {
			return true
		}
	}
	return false
}

func sliceRemove(s []uint64, e uint64) []uint64 {
	for i, a := range s {
		if a == e {
			return append(s[:i], s[i+1:]...)
		}
	}

	return s
}

// StratumConn starts the initial connection to a stratum pool and sets
// defaults in the pool object.
func StratumConn(pool, user, pass, proxy, proxyUser, proxyPass, agent string) (*Stratum, error) {
	var stratum Stratum
	stratum.cfg.User = user
	stratum.cfg.Pass = pass
	stratum.cfg.Proxy = proxy
	stratum.cfg.ProxyUser = proxyUser
	stratum.cfg.ProxyPass = proxyPass
	stratum.cfg.Agent = agent

	log.Infof("Using pool: %v", pool)
	proto := "stratum+tcp://"
	if strings.HasPrefix(pool, proto) {
		pool = strings.Replace(pool, proto, "", 1)
	} else {
		err := errors.New("only stratum pools supported")
		return nil, err
	}
	conn, err := dial(&stratum.cfg, pool)
	if err != nil {
		return nil, err
	}
	stratum.ID = 1
	stratum.Conn = conn
	stratum.cfg.Pool = pool
	stratum.PoolWork.NewWork = false
	stratum.Reader = bufio.NewReader(stratum.Conn)
	go stratum.Listen()

	err = stratum.Login()
	if err != nil {
		return nil, err
	}
	go stratum.keepAliveTicker()

	stratum.Started = uint32(time.Now().Unix())

	return &stratum, nil
}

func dial(cfg *Config, pool string) (net.Conn, error) {
	if cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     cfg.Proxy,
			Username: cfg.ProxyUser,
			Password: cfg.ProxyPass,
		}
		return proxy.Dial("tcp", pool)
	}
	return net.Dial("tcp", pool)
}

// Reconnect reconnects to a stratum server if the connection has been
// lost.
func (s *Stratum) Reconnect() error {
	conn, err := dial(&s.cfg, s.cfg.Pool)
	if err != nil {
		return err
	}
	s.Conn = conn
	s.Reader = bufio.NewReader(s.Conn)

	err = s.Login()
	if err != nil {
		return err
	}

	// If we were able to reconnect, restart counter
	s.Started = uint32(time.Now().Unix())

	return nil
}

// Listen is the listener for the incoming messages from the stratum
// pool.
func (s *Stratum) Listen() {
	log.Debug("Starting Listener")

	for {
		result, err := s.Reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Error("Connection lost!  Reconnecting.")
				err = s.Reconnect()
				if err != nil {
					log.Errorf("Reconnect failed: %v", err)
					return
				}
			} else {
				log.Error(err)
			}
			continue
		}

		log.Debug(strings.TrimSuffix(result, "\n"))
		resp, err := s.Unmarshal([]byte(result))
		if err != nil {
			log.Error(err)
			continue
		}

		switch resp.(type) {
		case *LoginReply:
			s.handleLoginReply(resp)
		case *Job:
			s.handleJob(resp)
		case *BasicReply:
			s.handleBasicReply(resp)
		default:
			log.Info("Unhandled message: ", result)
		}
	}
}

func (s *Stratum) handleLoginReply(resp interface{}) {
	s.Lock()
	defer s.Unlock()
	aResp := resp.(*LoginReply)

	if aResp.Status != "OK" {
		log.Errorf("Login failure: %v", aResp.Status)
		return
	}
	s.sessionID = aResp.ID
	log.Debug("Logged in")
	if aResp.Job != nil {
		s.storeJob(aResp.Job)
	}
}

func (s *Stratum) handleJob(resp interface{}) {
	s.Lock()
	defer s.Unlock()
	job := resp.(*Job)
	s.storeJob(job)
	log.Trace("job: ", spew.Sdump(job))
}

// storeJob records a new job for the work refresher to pick up.  The
// caller must hold the lock.
func (s *Stratum) storeJob(job *Job) {
	s.PoolWork.Blob = job.Blob
	s.PoolWork.JobID = job.JobID
	s.PoolWork.Target = job.Target
	s.PoolWork.Height = job.Height
	s.PoolWork.NewWork = true
	log.Debugf("new job %q height %v", job.JobID, job.Height)
}

func (s *Stratum) handleBasicReply(resp interface{}) {
	s.Lock()
	defer s.Unlock()
	aResp := resp.(*BasicReply)

	if sliceContains(s.submitIDs, aResp.ID) {
		if aResp.Error == nil && strings.EqualFold(aResp.Status, "OK") {
			atomic.AddUint64(&s.ValidShares, 1)
			log.Debug("Share accepted")
		} else {
			atomic.AddUint64(&s.InvalidShares, 1)
			if aResp.Error != nil {
				log.Error("Share rejected: ", aResp.Error.Message)
			} else {
				log.Error("Share rejected")
			}
		}
		s.submitIDs = sliceRemove(s.submitIDs, aResp.ID)
	}
}

// Login sends the login request to establish a mining session and
// marks the id so the reply can be matched against it.
func (s *Stratum) Login() error {
	s.Lock()
	msg := Request{
		ID:      s.ID,
		JSONRPC: "2.0",
		Method:  "login",
		Params: loginParams{
			Login: s.cfg.User,
			Pass:  s.cfg.Pass,
			Agent: s.cfg.Agent,
		},
	}
	s.loginID = msg.ID
	s.ID++
	s.Unlock()
	return s.writeRequest(&msg)
}

// keepAliveTicker pings the pool on an interval so idle connections are
// not dropped.
func (s *Stratum) keepAliveTicker() {
	t := time.NewTicker(keepAliveInterval)
	defer t.Stop()
	for range t.C {
		s.Lock()
		msg := Request{
			ID:      s.ID,
			JSONRPC: "2.0",
			Method:  "keepalived",
			Params:  map[string]string{"id": s.sessionID},
		}
		s.ID++
		s.Unlock()
		if err := s.writeRequest(&msg); err != nil {
			log.Errorf("keepalive failed: %v", err)
		}
	}
}

func (s *Stratum) writeRequest(msg *Request) error {
	m, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	log.Tracef("%s", m)
	_, err = s.Conn.Write(m)
	if err != nil {
		return err
	}
	_, err = s.Conn.Write([]byte("\n"))
	if err != nil {
		return err
	}
	return nil
}

// Unmarshal provides a json unmarshaler for the commands.  Replies
// carry no method, so they are matched against the ids of the requests
// still in flight.
func (s *Stratum) Unmarshal(blob []byte) (interface{}, error) {
	s.Lock()
	defer s.Unlock()
	var objmap map[string]json.RawMessage

	err := json.Unmarshal(blob, &objmap)
	if err != nil {
		return nil, err
	}
	// Not everyone has a method.
	var method string
	if raw, ok := objmap["method"]; ok {
		if err := json.Unmarshal(raw, &method); err != nil {
			method = ""
		}
	}
	var id uint64
	if raw, ok := objmap["id"]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &id); err != nil {
			return nil, errJSONType
		}
	}
	log.Trace("Received: method: ", method, " id: ", id)

	if method == "job" {
		job := &Job{}
		if err := json.Unmarshal(objmap["params"], job); err != nil {
			return nil, err
		}
		if job.Blob == "" || job.JobID == "" {
			return nil, errJSONType
		}
		return job, nil
	}

	if id != 0 && id == s.loginID {
		reply := &LoginReply{}
		var stratErr *StratErr
		if raw, ok := objmap["error"]; ok && string(raw) != "null" {
			if err := json.Unmarshal(raw, &stratErr); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("login rejected: %v (%d)",
				stratErr.Message, stratErr.Code)
		}
		if err := json.Unmarshal(objmap["result"], reply); err != nil {
			return nil, err
		}
		return reply, nil
	}

	if sliceContains(s.submitIDs, id) {
		resp := &BasicReply{ID: id}
		if raw, ok := objmap["error"]; ok && string(raw) != "null" {
			if err := json.Unmarshal(raw, &resp.Error); err != nil {
				return nil, err
			}
			return resp, nil
		}
		var result struct {
			Status string `json:"status"`
		}
		if raw, ok := objmap["result"]; ok && string(raw) != "null" {
			if err := json.Unmarshal(raw, &result); err != nil {
				return nil, err
			}
		}
		resp.Status = result.Status
		return resp, nil
	}

	return nil, nil
}

// PrepWork converts the latest pool job into Work the devices can run.
func (s *Stratum) PrepWork() error {
	w, err := work.NewFromHex(s.PoolWork.Blob, s.PoolWork.Target,
		s.PoolWork.JobID, uint32(time.Now().Unix()))
	if err != nil {
		return fmt.Errorf("could not prepare work from job %q: %w",
			s.PoolWork.JobID, err)
	}
	s.PoolWork.Work = w
	return nil
}

// PrepSubmit constructs the submit request for a solved share and
// registers its id so the accept/reject reply can be matched.  Shares
// for a job other than the current one are stale.
func (s *Stratum) PrepSubmit(sub Submit) (*Request, error) {
	log.Debugf("Submit job %v nonce %08x", sub.JobID, sub.Nonce)

	if s.PoolWork.JobID != "" && sub.JobID != s.PoolWork.JobID {
		atomic.AddUint64(&s.StaleShares, 1)
		return nil, ErrStratumStaleWork
	}

	msg := &Request{
		ID:      s.ID,
		JSONRPC: "2.0",
		Method:  "submit",
		Params: submitParams{
			ID:     s.sessionID,
			JobID:  sub.JobID,
			Nonce:  util.NonceHex(sub.Nonce),
			Result: hex.EncodeToString(sub.Hash),
		},
	}
	s.submitIDs = append(s.submitIDs, s.ID)
	s.ID++
	return msg, nil
}

// SubmitShare sends a solved share to the pool.
func (s *Stratum) SubmitShare(sub Submit) error {
	s.Lock()
	msg, err := s.PrepSubmit(sub)
	if err != nil {
		s.Unlock()
		return err
	}
	s.Unlock()
	return s.writeRequest(msg)
}
