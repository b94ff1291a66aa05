package notify

import (
	"fmt"
	"strings"

	"reportflow/internal/config"
	"reportflow/internal/domain"
	"reportflow/internal/metrics"
)

// FromConfig builds a dispatcher with the channel senders, address books
// and routing plan described by cfg.
func FromConfig(cfg config.NotifyConfig, sink metrics.Sink) (*Dispatcher, error) {
	plan, err := PlanFromConfig(cfg.Routes)
	if err != nil {
		return nil, err
	}
	book, err := addressBook(cfg.Recipients)
	if err != nil {
		return nil, err
	}

	router := NewRouter(book)
	switch cfg.Email.Mode {
	case "sendmail":
		router.Handle(domain.ChannelEmail, SendmailSender{Path: cfg.Email.SendmailPath, From: cfg.Email.From})
	default:
		router.Handle(domain.ChannelEmail, LogSender{})
	}
	switch cfg.SMS.Mode {
	case "gateway":
		router.Handle(domain.ChannelSMS, NewSMSGateway(cfg.SMS.GatewayURL, cfg.SMS.Token, cfg.SMS.Sender, cfg.SendTimeout))
	default:
		router.Handle(domain.ChannelSMS, LogSender{})
	}

	return NewDispatcher(router, Options{
		Plan:        plan,
		Concurrency: cfg.Concurrency,
		SendTimeout: cfg.SendTimeout,
		RatePerSec:  cfg.RatePerSec,
		Burst:       cfg.Burst,
		Metrics:     sink,
	}), nil
}

func addressBook(in map[string]config.RecipientBook) (AddressBook, error) {
	book := AddressBook{}
	for key, rb := range in {
		kind := domain.RecipientKind(strings.ToLower(key))
		switch kind {
		case domain.RecipientCustomer, domain.RecipientEmployee:
		default:
			return nil, fmt.Errorf("notify.recipients: unknown recipient kind %q", key)
		}
		book[kind] = map[domain.Channel][]string{
			domain.ChannelEmail: rb.Emails,
			domain.ChannelSMS:   rb.Phones,
		}
	}
	return book, nil
}
