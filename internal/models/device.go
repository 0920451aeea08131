package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Operator identifies one of the supported telecom providers
type Operator string

const (
	OperatorGrameenphone Operator = "gp"
	OperatorRobi         Operator = "robi"
	OperatorAirtel       Operator = "airtel"
	OperatorBanglalink   Operator = "bl"
	OperatorTeletalk     Operator = "teletalk"
)

// Operators lists every supported operator in display order
var Operators = []Operator{
	OperatorGrameenphone,
	OperatorRobi,
	OperatorAirtel,
	OperatorBanglalink,
	OperatorTeletalk,
}

// ParseOperator validates an operator code
func ParseOperator(code string) (Operator, error) {
	for _, op := range Operators {
		if string(op) == code {
			return op, nil
		}
	}
	return "", fmt.Errorf("unknown operator %q", code)
}

// DeviceStatus is the persisted state of a device. It is a closed set: the
// transient "connecting" state belongs to the login attempt, not the device.
type DeviceStatus string

const (
	DeviceStatusActive   DeviceStatus = "active"
	DeviceStatusInactive DeviceStatus = "inactive"
	DeviceStatusBlocked  DeviceStatus = "blocked"
)

// ParseDeviceStatus accepts the canonical values plus the legacy free-text
// spellings ("Connected", "Disconnected") found in older records.
func ParseDeviceStatus(s string) (DeviceStatus, error) {
	switch s {
	case "active", "Active", "connected", "Connected":
		return DeviceStatusActive, nil
	case "inactive", "Inactive", "disconnected", "Disconnected", "":
		return DeviceStatusInactive, nil
	case "blocked", "Blocked":
		return DeviceStatusBlocked, nil
	}
	return "", fmt.Errorf("unknown device status %q", s)
}

// Device is a single SIM record owned by one company account
type Device struct {
	ID           string          `json:"id" badgerhold:"key"`
	CompanyID    string          `json:"company_id" badgerhold:"index"`
	Operator     Operator        `json:"operator"`
	SimNumber    string          `json:"sim_number"`
	PasswordHash string          `json:"-"` // bcrypt, never plain text
	SimPIN       string          `json:"-"`
	Balance      decimal.Decimal `json:"balance"`
	Status       DeviceStatus    `json:"status"`
	SessionData  string          `json:"-"` // Serialized SessionState, empty when disconnected
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// HasSession reports whether a captured browser session is stored
func (d *Device) HasSession() bool {
	return d.SessionData != ""
}
