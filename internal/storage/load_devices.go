package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
	"github.com/ternarybob/urbix/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// DeviceFile is the devices seed file.
// Format:
// [[devices]]
// id = "d1"
// company_id = "acme"
// operator = "robi"
// sim_number = "01812345678"
// password = "plain text, hashed on load"
type DeviceFile struct {
	Devices []DeviceEntry `toml:"devices" validate:"dive"`
}

// DeviceEntry is one seeded device
type DeviceEntry struct {
	ID        string `toml:"id" validate:"required"`
	CompanyID string `toml:"company_id" validate:"required"`
	Operator  string `toml:"operator" validate:"required,oneof=gp robi airtel bl teletalk"`
	SimNumber string `toml:"sim_number" validate:"required,numeric,min=10,max=15"`
	Password  string `toml:"password"`
	SimPIN    string `toml:"sim_pin" validate:"omitempty,numeric"`
	Status    string `toml:"status"`
	Balance   string `toml:"balance" validate:"omitempty,numeric"`
}

// LoadDevicesFromFile seeds devices from a TOML file. Existing devices keep
// their session, balance and status; only the static fields are refreshed.
func LoadDevicesFromFile(ctx context.Context, devices interfaces.DeviceStorage, path string, logger arbor.ILogger) error {
	if path == "" {
		return nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug().Str("file", path).Msg("Devices file does not exist, skipping")
			return nil
		}
		return fmt.Errorf("failed to read devices file: %w", err)
	}

	var file DeviceFile
	if err := toml.Unmarshal(content, &file); err != nil {
		return fmt.Errorf("failed to parse devices file %s: %w", path, err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(&file); err != nil {
		return fmt.Errorf("invalid devices file %s: %w", path, err)
	}

	created, updated := 0, 0
	for _, entry := range file.Devices {
		device, isNew, err := buildDevice(ctx, devices, entry)
		if err != nil {
			return fmt.Errorf("device %s: %w", entry.ID, err)
		}
		if err := devices.SaveDevice(ctx, device); err != nil {
			return fmt.Errorf("failed to save device %s: %w", entry.ID, err)
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}

	logger.Info().
		Str("file", path).
		Int("created", created).
		Int("updated", updated).
		Msg("Finished loading devices from file")

	return nil
}

func buildDevice(ctx context.Context, devices interfaces.DeviceStorage, entry DeviceEntry) (*models.Device, bool, error) {
	device, err := devices.GetDevice(ctx, entry.ID)
	isNew := err != nil
	if isNew {
		device = &models.Device{
			ID:      entry.ID,
			Status:  models.DeviceStatusInactive,
			Balance: decimal.Zero,
		}
		if entry.Status != "" {
			status, err := models.ParseDeviceStatus(entry.Status)
			if err != nil {
				return nil, false, err
			}
			device.Status = status
		}
		if entry.Balance != "" {
			balance, err := decimal.NewFromString(entry.Balance)
			if err != nil {
				return nil, false, fmt.Errorf("invalid balance: %w", err)
			}
			device.Balance = balance.Round(2)
		}
	}

	operator, err := models.ParseOperator(entry.Operator)
	if err != nil {
		return nil, false, err
	}

	device.CompanyID = entry.CompanyID
	device.Operator = operator
	device.SimNumber = entry.SimNumber
	device.SimPIN = entry.SimPIN

	if entry.Password != "" && bcrypt.CompareHashAndPassword([]byte(device.PasswordHash), []byte(entry.Password)) != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(entry.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, false, fmt.Errorf("failed to hash password: %w", err)
		}
		device.PasswordHash = string(hash)
	}

	return device, isNew, nil
}
