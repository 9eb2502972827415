// Package authenticator drives a PAM conversation on a dedicated worker
// goroutine so the daemon's event loop never blocks on libpam.
package authenticator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/msteinert/pam/v2"
)

// Style is the kind of one conversation message, mirroring PAM's own
// style constants so callers never need to import the pam package
// themselves.
type Style int

const (
	StyleSecret Style = iota // echo-off prompt: password, passphrase, OTP
	StyleVisible
	StyleInfo
	StyleError
)

// Message is one prompt or informational item from the PAM stack.
type Message struct {
	Kind Style
	Text string
}

// Result is the terminal outcome of an authentication attempt.
type Result int

const (
	ResultAuthenticated Result = iota
	ResultDenied
	ResultAccountExpired
	ResultNewTokenRequired
	ResultMaxTries
	ResultUnknownUser
	ResultCancelled
	ResultSystemError
)

func (r Result) String() string {
	switch r {
	case ResultAuthenticated:
		return "authenticated"
	case ResultDenied:
		return "denied"
	case ResultAccountExpired:
		return "account_expired"
	case ResultNewTokenRequired:
		return "new_token_required"
	case ResultMaxTries:
		return "maxtries"
	case ResultUnknownUser:
		return "unknown_user"
	case ResultCancelled:
		return "cancelled"
	case ResultSystemError:
		return "system_error"
	default:
		return "unknown_result"
	}
}

// State is the authenticator's own lifecycle, independent of the PAM
// transaction's internal state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateAwaitingResponse
	StateComplete
)

// response is what the event loop hands back to the worker: either one
// answer per outstanding prompt, or a cancellation.
type response struct {
	answers []byte
	cancel  bool
}

// Authenticator drives one PAM conversation. Not reusable: create a new
// one per authentication attempt.
type Authenticator struct {
	service  string
	username string

	state atomic.Int32

	// messages is unbuffered: a send blocks until the event loop receives
	// it, which is what guarantees at most one outstanding batch at a
	// time.
	messages chan []Message
	// responses is depth 1: the event loop's Respond/Cancel call is the
	// only thing that re-arms the worker.
	responses chan response
	complete  chan Result

	startOnce  sync.Once
	cancelOnce sync.Once
	cancelled  atomic.Bool

	envMu sync.Mutex
	env   map[string]string
}

// Env returns the PAM-supplied environment (pam_getenvlist), valid once
// Complete has delivered ResultAuthenticated. Session.Prepare merges this
// over the daemon-supplied base.
func (a *Authenticator) Env() map[string]string {
	a.envMu.Lock()
	defer a.envMu.Unlock()
	return a.env
}

// New creates an Authenticator for username against the named PAM
// service (e.g. "lightdm" or "lightdm-autologin").
func New(service, username string) *Authenticator {
	return &Authenticator{
		service:   service,
		username:  username,
		messages:  make(chan []Message),
		responses: make(chan response, 1),
		complete:  make(chan Result, 1),
	}
}

// Start launches the worker goroutine. Safe to call only once; later
// calls are no-ops.
func (a *Authenticator) Start() {
	a.startOnce.Do(func() {
		a.state.Store(int32(StateRunning))
		go a.run()
	})
}

// State returns the authenticator's current lifecycle state.
func (a *Authenticator) State() State {
	return State(a.state.Load())
}

// Messages delivers batches of prompts. The caller must call Respond or
// Cancel exactly once per batch before another batch is sent.
func (a *Authenticator) Messages() <-chan []Message {
	return a.messages
}

// Complete delivers exactly one Result and is then never sent to again.
func (a *Authenticator) Complete() <-chan Result {
	return a.complete
}

// Respond answers the most recently delivered message batch, one answer
// per message in that batch. The backing buffer is zeroed once the
// worker has consumed it.
func (a *Authenticator) Respond(answers []byte) {
	a.state.Store(int32(StateRunning))
	a.responses <- response{answers: answers}
}

// Cancel aborts the conversation. Idempotent; only the first call has
// effect. The worker observes this within one conversation round and
// the Authenticator emits ResultCancelled regardless of what PAM itself
// returns.
func (a *Authenticator) Cancel() {
	a.cancelOnce.Do(func() {
		a.cancelled.Store(true)
		a.responses <- response{cancel: true}
	})
}

func (a *Authenticator) run() {
	tx, err := pam.StartFunc(a.service, a.username, a.conversation)
	if err != nil {
		a.finish(ResultSystemError)
		return
	}
	defer tx.End()

	result := classifyAuthError(tx.Authenticate(0))
	if result == ResultAuthenticated {
		if err := tx.AcctMgmt(0); err != nil {
			result = classifyAcctError(err)
		}
	}
	if result == ResultAuthenticated {
		if env, envErr := tx.GetEnvList(); envErr == nil {
			a.envMu.Lock()
			a.env = env
			a.envMu.Unlock()
		}
	}
	if a.cancelled.Load() {
		result = ResultCancelled
	}

	a.finish(result)
}

func (a *Authenticator) finish(result Result) {
	a.state.Store(int32(StateComplete))
	a.complete <- result
	close(a.complete)
}

// conversation is PAM's callback into us, invoked synchronously on the
// worker goroutine once per message. It blocks on the event loop's
// response exactly as the original conversation function blocks on its
// response queue.
func (a *Authenticator) conversation(style pam.Style, msg string) (string, error) {
	a.state.Store(int32(StateAwaitingResponse))
	a.messages <- []Message{{Kind: styleFromPAM(style), Text: msg}}

	resp := <-a.responses
	if resp.cancel {
		return "", pam.ErrConv
	}

	answer := string(resp.answers)
	zero(resp.answers)
	return answer, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func styleFromPAM(style pam.Style) Style {
	switch style {
	case pam.PromptEchoOff:
		return StyleSecret
	case pam.PromptEchoOn:
		return StyleVisible
	case pam.ErrorMsg:
		return StyleError
	case pam.TextInfo:
		return StyleInfo
	default:
		return StyleInfo
	}
}

// classifyAuthError maps the result of Transaction.Authenticate onto the
// outcomes callers need to distinguish: success, rejected credentials,
// cancellation, and everything else (a PAM-stack-local failure).
func classifyAuthError(err error) Result {
	if err == nil {
		return ResultAuthenticated
	}

	var pamErr pam.Error
	if !errors.As(err, &pamErr) {
		return ResultSystemError
	}

	switch pamErr {
	case pam.ErrUserUnknown:
		return ResultUnknownUser
	case pam.ErrMaxtries:
		return ResultMaxTries
	case pam.ErrAuth, pam.ErrCredInsufficient, pam.ErrAuthinfoUnavail:
		return ResultDenied
	case pam.ErrAcctExpired:
		return ResultAccountExpired
	case pam.ErrAbort, pam.ErrConv:
		return ResultCancelled
	default:
		return ResultSystemError
	}
}

// classifyAcctError maps Transaction.AcctMgmt's error once Authenticate
// itself has already succeeded.
func classifyAcctError(err error) Result {
	var pamErr pam.Error
	if !errors.As(err, &pamErr) {
		return ResultSystemError
	}

	switch pamErr {
	case pam.ErrAcctExpired:
		return ResultAccountExpired
	case pam.ErrNewAuthtokReqd:
		return ResultNewTokenRequired
	default:
		return ResultSystemError
	}
}

// Err wraps a non-PAM startup failure (e.g. pam_start itself failing)
// with context, for callers that want to log it.
func Err(username string, err error) error {
	return fmt.Errorf("authenticator: starting conversation for %q: %w", username, err)
}
