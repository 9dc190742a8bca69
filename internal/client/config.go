package client

import (
	"fmt"

	"github.com/dkeye/rtcsignal/internal/config"
	"github.com/dkeye/rtcsignal/internal/domain"
)

// OptionsFromConfig builds manager options for role. An empty session id
// gets a fresh one, which the other side then has to be told about.
func OptionsFromConfig(c config.ClientConfig, role domain.Role) (Options, error) {
	id := domain.SessionID(c.SessionID)
	if id == "" {
		id = domain.NewSessionID()
	}
	if err := id.Validate(); err != nil {
		return Options{}, err
	}

	opts := Options{
		Key:              domain.SessionKey{ID: id, Role: role},
		PollInterval:     c.PollInterval,
		MaxEmptyPolls:    c.MaxEmptyPolls,
		RequestTimeout:   c.RequestTimeout,
		CandidateRetries: c.CandidateRetries,
		RetryBase:        c.RetryBase,
	}
	switch c.Delivery {
	case "", "poll":
	case "push":
		opts.Push = true
	default:
		return Options{}, fmt.Errorf("unknown delivery %q", c.Delivery)
	}
	return opts, nil
}
