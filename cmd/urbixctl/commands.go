package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/urbix/internal/models"
	"github.com/urfave/cli/v3"
)

var loginCommand = &cli.Command{
	Name:      "login",
	Usage:     "Start a login for a device and follow it until it finishes",
	ArgsUsage: "<device-id>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "url",
			Usage: "Override the operator portal URL",
		},
		&cli.StringFlag{
			Name:  "sim",
			Usage: "Override the phone number typed into the portal",
		},
		&cli.StringFlag{
			Name:  "otp",
			Usage: "Send this code when the portal asks for it instead of prompting",
		},
		&cli.BoolFlag{
			Name:  "detach",
			Usage: "Only queue the login and print the attempt id",
		},
	},
	Action: loginAction,
}

var otpCommand = &cli.Command{
	Name:      "otp",
	Usage:     "Submit the OTP received on the device's SIM",
	ArgsUsage: "<device-id> [code]",
	Action:    otpAction,
}

var attemptCommand = &cli.Command{
	Name:      "attempt",
	Usage:     "Show the status of a login attempt",
	ArgsUsage: "<attempt-id>",
	Action:    attemptAction,
}

var deviceCommand = &cli.Command{
	Name:      "device",
	Usage:     "List devices, or show one device with its recent attempts",
	ArgsUsage: "[device-id]",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "session",
			Usage: "Also print the stored session cookies",
		},
	},
	Action: deviceAction,
}

var logoutCommand = &cli.Command{
	Name:      "logout",
	Usage:     "Clear the stored session of a device",
	ArgsUsage: "<device-id>",
	Action:    logoutAction,
}

func clientFrom(cmd *cli.Command) (*apiClient, error) {
	return newAPIClient(cmd.String("server"))
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := strings.TrimSpace(cmd.Args().First())
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	deviceID, err := requireArg(cmd, "device id")
	if err != nil {
		return err
	}
	client, err := clientFrom(cmd)
	if err != nil {
		return err
	}

	body := map[string]string{}
	if v := cmd.String("url"); v != "" {
		body["operator_url"] = v
	}
	if v := cmd.String("sim"); v != "" {
		body["sim_number"] = v
	}

	if cmd.Bool("detach") {
		attemptID, err := startLogin(ctx, client, deviceID, body)
		if err != nil {
			return err
		}
		fmt.Println(attemptID)
		return nil
	}

	// Subscribe before starting so no phase is missed
	conn, err := client.dialOTPSocket(ctx, deviceID)
	if err != nil {
		return err
	}
	defer conn.Close()

	attemptID, err := startLogin(ctx, client, deviceID, body)
	if err != nil {
		return err
	}
	fmt.Printf("Login queued: %s\n", attemptID)

	supply := func() (string, error) {
		if code := cmd.String("otp"); code != "" {
			return code, nil
		}
		return promptSecret("Enter OTP: ")
	}
	return follow(conn, attemptID, supply, os.Stdout)
}

func startLogin(ctx context.Context, client *apiClient, deviceID string, body map[string]string) (string, error) {
	var resp struct {
		AttemptID string `json:"attempt_id"`
	}
	if err := client.do(ctx, "POST", devicePath(deviceID, "/login"), body, &resp); err != nil {
		return "", err
	}
	return resp.AttemptID, nil
}

// socketMessage mirrors the server's websocket envelope with a deferred payload
type socketMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// follow prints progress for one attempt, sends the OTP when the portal is
// waiting for it and returns once the attempt reports its result
func follow(conn *websocket.Conn, attemptID string, supplyOTP func() (string, error), out io.Writer) error {
	for {
		var msg socketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("live channel closed: %w", err)
		}

		switch msg.Type {
		case "login_progress":
			var progress models.LoginProgress
			if err := json.Unmarshal(msg.Payload, &progress); err != nil || progress.AttemptID != attemptID {
				continue
			}
			fmt.Fprintf(out, "  [run %d] %s\n", progress.Attempt, progress.Phase)
			if progress.Phase != models.PhaseAwaitingOTP {
				continue
			}
			code, err := supplyOTP()
			if err != nil {
				return fmt.Errorf("failed to read OTP: %w", err)
			}
			if err := conn.WriteJSON(map[string]string{"otp": code}); err != nil {
				return fmt.Errorf("failed to send OTP: %w", err)
			}

		case "login_result":
			var result models.LoginResult
			if err := json.Unmarshal(msg.Payload, &result); err != nil || result.AttemptID != attemptID {
				continue
			}
			if result.Status != models.ResultSuccess {
				return fmt.Errorf("login failed (%s): %s", result.Reason, result.Message)
			}
			balance := "unknown"
			if result.Balance != nil {
				balance = result.Balance.StringFixed(2)
			}
			fmt.Fprintf(out, "Login successful, balance %s\n", balance)
			return nil

		case "otp_received":
			fmt.Fprintln(out, "  OTP delivered")

		case "error":
			var e struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(msg.Payload, &e)
			fmt.Fprintf(out, "  server: %s\n", e.Message)
		}
	}
}

func otpAction(ctx context.Context, cmd *cli.Command) error {
	deviceID, err := requireArg(cmd, "device id")
	if err != nil {
		return err
	}
	client, err := clientFrom(cmd)
	if err != nil {
		return err
	}

	code := strings.TrimSpace(cmd.Args().Get(1))
	if code == "" {
		if code, err = promptSecret("Enter OTP: "); err != nil {
			return err
		}
	}

	if err := client.do(ctx, "POST", devicePath(deviceID, "/otp"), map[string]string{"otp": code}, nil); err != nil {
		return err
	}
	fmt.Println("OTP submitted")
	return nil
}

func attemptAction(ctx context.Context, cmd *cli.Command) error {
	attemptID, err := requireArg(cmd, "attempt id")
	if err != nil {
		return err
	}
	client, err := clientFrom(cmd)
	if err != nil {
		return err
	}

	var attempt models.LoginAttempt
	if err := client.do(ctx, "GET", "/api/attempts/"+attemptID, nil, &attempt); err != nil {
		return err
	}
	printAttempt(os.Stdout, &attempt)
	return nil
}

func deviceAction(ctx context.Context, cmd *cli.Command) error {
	client, err := clientFrom(cmd)
	if err != nil {
		return err
	}

	deviceID := strings.TrimSpace(cmd.Args().First())
	if deviceID == "" {
		var devices []deviceView
		if err := client.do(ctx, "GET", "/api/devices", nil, &devices); err != nil {
			return err
		}
		for _, d := range devices {
			fmt.Printf("%-20s %-10s %-15s %-10s %s\n", d.ID, d.Operator, d.SimNumber, d.Status, d.Balance)
		}
		return nil
	}

	var device deviceView
	if err := client.do(ctx, "GET", devicePath(deviceID, ""), nil, &device); err != nil {
		return err
	}
	fmt.Printf("Device:   %s (company %s)\n", device.ID, device.CompanyID)
	fmt.Printf("Operator: %s  SIM: %s\n", device.Operator, device.SimNumber)
	fmt.Printf("Status:   %s  Balance: %s  Session: %t\n", device.Status, device.Balance, device.HasSession)

	var attempts []models.LoginAttempt
	if err := client.do(ctx, "GET", devicePath(deviceID, "/attempts"), nil, &attempts); err != nil {
		return err
	}
	for i := range attempts {
		fmt.Println()
		printAttempt(os.Stdout, &attempts[i])
	}

	if cmd.Bool("session") && device.HasSession {
		var session struct {
			Cookies []models.Cookie `json:"cookies"`
		}
		if err := client.do(ctx, "GET", devicePath(deviceID, "/session"), nil, &session); err != nil {
			return err
		}
		fmt.Println()
		for _, c := range session.Cookies {
			fmt.Printf("  %s=%s (%s)\n", c.Name, c.Value, c.Domain)
		}
	}
	return nil
}

func logoutAction(ctx context.Context, cmd *cli.Command) error {
	deviceID, err := requireArg(cmd, "device id")
	if err != nil {
		return err
	}
	client, err := clientFrom(cmd)
	if err != nil {
		return err
	}
	if err := client.do(ctx, "POST", devicePath(deviceID, "/logout"), nil, nil); err != nil {
		return err
	}
	fmt.Println("Device logged out")
	return nil
}

type deviceView struct {
	ID         string `json:"id"`
	CompanyID  string `json:"company_id"`
	Operator   string `json:"operator"`
	SimNumber  string `json:"sim_number"`
	Balance    string `json:"balance"`
	Status     string `json:"status"`
	HasSession bool   `json:"has_session"`
}

func printAttempt(out io.Writer, a *models.LoginAttempt) {
	fmt.Fprintf(out, "Attempt:  %s\n", a.ID)
	fmt.Fprintf(out, "Status:   %s (phase %s, run %d of %d)\n", a.Status, a.Phase, a.Attempt, a.MaxAttempts)
	if a.Reason != "" {
		fmt.Fprintf(out, "Reason:   %s: %s\n", a.Reason, a.Message)
	}
	if a.Balance != nil {
		fmt.Fprintf(out, "Balance:  %s\n", a.Balance.StringFixed(2))
	}
	fmt.Fprintf(out, "Started:  %s\n", a.StartedAt.Format(time.RFC3339))
	if a.FinishedAt != nil {
		fmt.Fprintf(out, "Finished: %s\n", a.FinishedAt.Format(time.RFC3339))
	}
}
