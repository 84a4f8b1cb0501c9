package failure

import (
	"math"
)

type Channel string

const (
	Inline   Channel = "inline"
	Notice   Channel = "notice"
	Blocking Channel = "blocking"
)

type Presentation struct {
	Kind              Kind    `json:"kind"`
	Channel           Channel `json:"channel"`
	Message           string  `json:"message"`
	Code              string  `json:"code,omitempty"`
	RetryAfterSeconds int     `json:"retry_after,omitempty"`
	Status            int     `json:"-"`
}

type rule struct {
	channel  Channel
	message  string
	fallback bool
}

// fallback rules use the error's own message and only fall back to the
// table message when it is empty.
var table = map[Kind]rule{
	Validation:   {Inline, "The request is invalid.", true},
	Rejected:     {Inline, "The request was declined.", true},
	Unauthorized: {Blocking, "Your session has ended. Please log in again.", false},
	Forbidden:    {Blocking, "You do not have permission to perform this action. Contact support if this is unexpected.", false},
	NotFound:     {Notice, "The requested record no longer exists.", false},
	Conflict:     {Blocking, "This record already exists.", true},
	RateLimited:  {Blocking, "Too many requests. Please wait and try again later.", false},
	Server:       {Notice, "Something went wrong on our side. Please try again later.", false},
	Network:      {Notice, "Unable to reach the server. Check your connection and try again.", false},
}

// Present maps err to what the client shows. Non-failure errors are
// presented as Server errors without leaking their text.
func Present(err error) Presentation {
	fe, ok := As(err)
	if !ok {
		fe = &Error{Kind: Server}
	}

	r, known := table[fe.Kind]
	if !known {
		r = table[Server]
	}

	message := r.message
	if r.fallback && fe.Message != "" {
		message = fe.Message
	}
	if fe.Kind == RateLimited && fe.Message != "" {
		message = fe.Message
	}

	channel := r.channel
	if fe.Channel != "" {
		channel = fe.Channel
	}

	return Presentation{
		Kind:              fe.Kind,
		Channel:           channel,
		Message:           message,
		Code:              fe.Code,
		RetryAfterSeconds: int(math.Ceil(fe.RetryAfter.Seconds())),
		Status:            HTTPStatus(fe.Kind, fe.Timeout),
	}
}
