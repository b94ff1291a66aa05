package domain

import "time"

// ScheduleConfig is the one durable row per task name.
type ScheduleConfig struct {
	ID             string    `json:"id"`
	TaskName       string    `json:"task_name"`
	CronExpression string    `json:"cron_expression"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

type ReportType string

const (
	ReportCustomer  ReportType = "CUSTOMER"
	ReportSales     ReportType = "SALES"
	ReportSupport   ReportType = "SUPPORT"
	ReportMarketing ReportType = "MARKETING"
)

// ReportTypes lists every report type in canonical order.
var ReportTypes = []ReportType{ReportCustomer, ReportSales, ReportSupport, ReportMarketing}

func (t ReportType) Valid() bool {
	switch t {
	case ReportCustomer, ReportSales, ReportSupport, ReportMarketing:
		return true
	}
	return false
}

// ReportSnapshot is produced once by a report collaborator and never mutated.
type ReportSnapshot struct {
	Type        ReportType     `json:"report_type"`
	GeneratedAt time.Time      `json:"generated_at"`
	DataPoints  map[string]any `json:"data_points"`
}

type RecipientKind string

const (
	RecipientCustomer RecipientKind = "customer"
	RecipientEmployee RecipientKind = "employee"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

type Status string

const (
	StatusSent   Status = "SENT"
	StatusFailed Status = "FAILED"
)

// Message is one rendered notification ready for a channel sender.
type Message struct {
	ReportType    ReportType
	RecipientKind RecipientKind
	Channel       Channel
	// To is filled from the address book of RecipientKind before sending.
	To      []string
	Subject string
	Body    string
}

// NotificationOutcome records one attempted send.
type NotificationOutcome struct {
	ReportType    ReportType    `json:"report_type"`
	RecipientKind RecipientKind `json:"recipient_kind"`
	Channel       Channel       `json:"channel"`
	Subject       string        `json:"subject"`
	Body          string        `json:"body"`
	Status        Status        `json:"status"`
	Error         string        `json:"error,omitempty"`
}
