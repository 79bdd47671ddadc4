package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gridsingularity/d3a/core/model"
)

// Status is the terminal state reported to the participant.
type Status string

const (
	StatusReady Status = "ready"
	StatusError Status = "error"
)

// Response is the message published on a command response topic. Only the
// fields belonging to Command are rendered.
type Response struct {
	Command      string
	Status       Status
	Offer        *model.Order
	DeletedOffer string
	OfferList    []model.OrderSummary
	Bid          *model.Order
	BidDeleted   string
	BidList      []model.OrderSummary
	Stats        map[string]any
	Connected    bool
	ErrorMessage string
}

// MarshalJSON renders the wire format of the response.
func (r Response) MarshalJSON() ([]byte, error) {
	out := map[string]any{"command": r.Command, "status": r.Status}
	if r.Status == StatusError {
		out["error_message"] = r.ErrorMessage
		return json.Marshal(out)
	}
	switch r.Command {
	case "offer":
		out["offer"] = r.Offer
	case "offer_delete":
		out["deleted_offer"] = r.DeletedOffer
	case "offers":
		out["offer_list"] = summaries(r.OfferList)
	case "bid":
		out["bid"] = r.Bid
	case "bid_delete":
		out["bid_deleted"] = r.BidDeleted
	case "bids":
		out["bid_list"] = summaries(r.BidList)
	case "stats":
		out["device_stats"] = r.Stats
	case "register", "unregister":
		out["connected"] = r.Connected
	}
	return json.Marshal(out)
}

func summaries(s []model.OrderSummary) []model.OrderSummary {
	if s == nil {
		return []model.OrderSummary{}
	}
	return s
}

// ErrorKind classifies command failures.
type ErrorKind int

const (
	// ValidationError rejects a command synchronously; nothing is queued.
	ValidationError ErrorKind = iota
	// ExecutionError rejects a queued command at drain time.
	ExecutionError
	// ConnectionError marks commands dropped while no participant is registered.
	ConnectionError
)

func (k ErrorKind) String() string {
	switch k {
	case ValidationError:
		return "validation"
	case ExecutionError:
		return "execution"
	case ConnectionError:
		return "connection"
	}
	return "unknown"
}

// CommandError describes why a command failed.
type CommandError struct {
	Kind    ErrorKind
	Command string
	Detail  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error on %s: %s: %v", e.Kind, e.Command, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s error on %s: %s", e.Kind, e.Command, e.Detail)
}

func (e *CommandError) Unwrap() error { return e.Err }

// IsKind reports whether err is a CommandError of kind k.
func IsKind(err error, k ErrorKind) bool {
	var ce *CommandError
	return errors.As(err, &ce) && ce.Kind == k
}

// Result is the outcome of validating or executing one command.
type Result struct {
	response Response
	err      *CommandError
}

// Ok wraps a successful response.
func Ok(r Response) Result {
	r.Status = StatusReady
	return Result{response: r}
}

// Fail builds a failed result for command.
func Fail(kind ErrorKind, command, detail string, err error) Result {
	return Result{err: &CommandError{Kind: kind, Command: command, Detail: detail, Err: err}}
}

// FromError turns err into a failed result. Errors that are not a
// CommandError are reported as execution errors.
func FromError(command string, err error) Result {
	var ce *CommandError
	if errors.As(err, &ce) {
		return Result{err: ce}
	}
	return Fail(ExecutionError, command, "unexpected failure", err)
}

// IsOk reports whether the command succeeded.
func (r Result) IsOk() bool { return r.err == nil }

// Err returns the failure, or nil.
func (r Result) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Response renders the message published to the participant.
func (r Result) Response() Response {
	if r.err != nil {
		return Response{Command: r.err.Command, Status: StatusError, ErrorMessage: r.err.Error()}
	}
	return r.response
}
