// Package models defines flow and step identifiers to avoid circular imports.
package models

// FlowID names a dialogue flow.
type FlowID string

// StepID names a capture step inside a flow.
type StepID string

// Flow identifiers.
const (
	FlowNone          FlowID = ""
	FlowEntry         FlowID = "entry"
	FlowRegistration  FlowID = "registration"
	FlowIntent        FlowID = "intent"
	FlowGreeting      FlowID = "greeting"
	FlowBooking       FlowID = "booking"
	FlowCancel        FlowID = "cancel"
	FlowHours         FlowID = "hours"
	FlowLocation      FlowID = "location"
	FlowSpecialties   FlowID = "specialties"
	FlowPricing       FlowID = "pricing"
	FlowChat          FlowID = "chat"
	FlowHandoff       FlowID = "handoff"
	FlowAdmin         FlowID = "admin"
	FlowAdminSchedule FlowID = "admin_schedule"
	FlowExpired       FlowID = "expired"
)

// Capture step identifiers.
const (
	StepNone StepID = ""

	StepRegistrationName StepID = "registration.name"

	StepBookingBranch      StepID = "booking.branch"
	StepBookingDateTime    StepID = "booking.datetime"
	StepBookingNameConfirm StepID = "booking.name_confirm"
	StepBookingNewName     StepID = "booking.new_name"
	StepBookingEmail       StepID = "booking.email"
	StepBookingReason      StepID = "booking.reason"
	StepBookingConfirm     StepID = "booking.confirm"

	StepCancelSelect  StepID = "cancel.select"
	StepCancelConfirm StepID = "cancel.confirm"

	StepHoursOffer StepID = "hours.offer"

	StepLocationDecide StepID = "location.decide"
	StepLocationShare  StepID = "location.share"
	StepLocationOffer  StepID = "location.offer"

	StepSpecialtyWhich  StepID = "specialties.which"
	StepSpecialtyFollow StepID = "specialties.follow"

	StepPricingFollow StepID = "pricing.follow"

	StepAdminScheduleData    StepID = "admin_schedule.data"
	StepAdminScheduleConfirm StepID = "admin_schedule.confirm"
)
