package models

import "time"

type QueueEntry struct {
	EntryID           string     `json:"entry_id"`
	ClinicID          string     `json:"clinic_id"`
	AppointmentID     *string    `json:"appointment_id,omitempty"`
	TicketNumber      string     `json:"ticket_number"`
	PatientName       string     `json:"patient_name"`
	Status            string     `json:"status"`
	ArrivalTime       time.Time  `json:"arrival_time"`
	ServiceStartTime  *time.Time `json:"service_start_time,omitempty"`
	ServiceEndTime    *time.Time `json:"service_end_time,omitempty"`
	AssignedServerID  *string    `json:"assigned_server_id,omitempty"`
	ConsultationNotes string     `json:"consultation_notes,omitempty"`
	RequestID         string     `json:"request_id,omitempty"`
}

const (
	StatusWaiting = "waiting"
	StatusServing = "serving"
	StatusDone    = "done"
	StatusNoShow  = "no_show"
)

type Clinic struct {
	ClinicID      string `json:"clinic_id"`
	Name          string `json:"name"`
	LocationLabel string `json:"location_label"`
	OpenTime      string `json:"open_time"`
	CloseTime     string `json:"close_time"`
	Timezone      string `json:"timezone"`
	DisplayTheme  string `json:"display_theme,omitempty"`
}

type Appointment struct {
	AppointmentID string    `json:"appointment_id"`
	ClinicID      string    `json:"clinic_id"`
	PatientName   string    `json:"patient_name"`
	Phone         string    `json:"phone,omitempty"`
	ScheduledAt   time.Time `json:"scheduled_at"`
	TicketCode    string    `json:"ticket_code"`
	Status        string    `json:"status"`
}

const (
	AppointmentBooked    = "booked"
	AppointmentCheckedIn = "checked_in"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
	AppointmentNoShow    = "no_show"
)
