package notify

import (
	"fmt"
	"strings"

	"reportflow/internal/config"
	"reportflow/internal/domain"
)

// Route is one audience a report type is delivered to.
type Route struct {
	Recipient domain.RecipientKind
	Channel   domain.Channel
	Subject   string
	Body      string
}

// Plan maps a report type to its audiences. A type with several routes
// fans out to several messages.
type Plan map[domain.ReportType][]Route

const defaultSubject = "{report_type} report for {generated_at}"

// DefaultPlan sends every report to exactly one audience.
func DefaultPlan() Plan {
	return Plan{
		domain.ReportCustomer: {{
			Recipient: domain.RecipientEmployee,
			Channel:   domain.ChannelEmail,
			Subject:   defaultSubject,
			Body:      "Customers: {total_customers} total, {new_customers} new since the last report.",
		}},
		domain.ReportSales: {{
			Recipient: domain.RecipientEmployee,
			Channel:   domain.ChannelEmail,
			Subject:   defaultSubject,
			Body:      "Sales: {total_revenue} revenue from {closed_deals} closed deals, {open_opportunities} opportunities open.",
		}},
		domain.ReportSupport: {{
			Recipient: domain.RecipientEmployee,
			Channel:   domain.ChannelSMS,
			Subject:   defaultSubject,
			Body:      "Support: {open_tickets} open, {resolved_tickets} resolved.",
		}},
		domain.ReportMarketing: {{
			Recipient: domain.RecipientCustomer,
			Channel:   domain.ChannelEmail,
			Subject:   "News from our latest campaigns",
			Body:      "{active_campaigns} campaigns running. Highlights: {highlights}",
		}},
	}
}

// PlanFromConfig overlays configured routes on DefaultPlan. A report type
// listed in routes replaces its default audiences entirely; empty subject
// or body templates inherit the default ones of the first default route.
func PlanFromConfig(routes map[string][]config.RouteConfig) (Plan, error) {
	plan := DefaultPlan()
	for key, rcs := range routes {
		t := domain.ReportType(strings.ToUpper(key))
		if !t.Valid() {
			return nil, fmt.Errorf("notify.routes: unknown report type %q", key)
		}
		base := plan[t][0]
		out := make([]Route, 0, len(rcs))
		for i, rc := range rcs {
			r, err := routeFromConfig(rc, base)
			if err != nil {
				return nil, fmt.Errorf("notify.routes.%s[%d]: %w", key, i, err)
			}
			out = append(out, r)
		}
		plan[t] = out
	}
	return plan, nil
}

func routeFromConfig(rc config.RouteConfig, base Route) (Route, error) {
	r := Route{
		Recipient: domain.RecipientKind(strings.ToLower(rc.Recipient)),
		Channel:   domain.Channel(strings.ToLower(rc.Channel)),
		Subject:   rc.Subject,
		Body:      rc.Body,
	}
	switch r.Recipient {
	case domain.RecipientCustomer, domain.RecipientEmployee:
	default:
		return Route{}, fmt.Errorf("unknown recipient %q", rc.Recipient)
	}
	switch r.Channel {
	case domain.ChannelEmail, domain.ChannelSMS:
	default:
		return Route{}, fmt.Errorf("unknown channel %q", rc.Channel)
	}
	if r.Subject == "" {
		r.Subject = base.Subject
	}
	if r.Body == "" {
		r.Body = base.Body
	}
	return r, nil
}
