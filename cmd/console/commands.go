package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/example/driver-console-sync/internal/lifecycle"
	"github.com/example/driver-console-sync/internal/models"
)

// commander is the part of a console session the command line drives.
type commander interface {
	Jobs() []models.Job
	Requests() []models.ApprovalRequest
	LegalActions(id models.ID) []lifecycle.Action
	PerformAction(ctx context.Context, jobID models.ID, action lifecycle.Action) (models.Job, error)
	Approve(ctx context.Context, requestID models.ID) (models.Job, error)
	Reject(ctx context.Context, requestID models.ID) error
	CounterOffer(ctx context.Context, requestID models.ID, price float64, message string) error
	SetActiveConversation(ctx context.Context, conversationID models.ID) error
	SendMessage(ctx context.Context, conversationID models.ID, text string) (models.Message, error)
	MarkAllNotificationsRead(ctx context.Context) error
	Subscribe(ctx context.Context, plan string) (models.Subscription, error)
	ReportLocation(c models.Coord) (bool, error)
}

var errUsage = errors.New("usage")

const help = `commands:
  jobs                          list jobs with their legal actions
  requests                      list pending requests
  do <job> <action>             perform a driver action
  approve|reject <request>
  counter <request> <price> [message]
  open <conversation>           open a conversation ("-" closes it)
  send <conversation> <text>
  read                          mark all notifications read
  subscribe <plan>
  location <lat> <lon>
`

func readCommands(ctx context.Context, c commander, in io.Reader, out io.Writer, logger *slog.Logger) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := runCommand(ctx, c, sc.Text(), out); err != nil {
			if errors.Is(err, errUsage) {
				fmt.Fprint(out, help)
				continue
			}
			fmt.Fprintf(out, "error: %v\n", err)
			logger.Debug("command failed", "line", sc.Text(), "error", err)
		}
	}
}

func runCommand(ctx context.Context, c commander, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := fields[0], fields[1:]
	need := func(n int) error {
		if len(args) < n {
			return errUsage
		}
		return nil
	}

	switch cmd {
	case "jobs":
		for _, j := range c.Jobs() {
			fmt.Fprintf(out, "%s\t%s\t%s\t%v\n", j.ID, j.Kind, j.Status, c.LegalActions(j.ID))
		}
		return nil
	case "requests":
		for _, r := range c.Requests() {
			fmt.Fprintf(out, "%s\t%s\t%s -> %s\t%.2f\n", r.Key(), r.ClientName, r.Origin, r.Destination, r.OfferedPrice)
		}
		return nil
	case "do":
		if err := need(2); err != nil {
			return err
		}
		j, err := c.PerformAction(ctx, models.ID(args[0]), lifecycle.Action(args[1]))
		if err != nil {
			return err
		}
		return printJSON(out, j)
	case "approve":
		if err := need(1); err != nil {
			return err
		}
		j, err := c.Approve(ctx, models.ID(args[0]))
		if err != nil {
			return err
		}
		return printJSON(out, j)
	case "reject":
		if err := need(1); err != nil {
			return err
		}
		return c.Reject(ctx, models.ID(args[0]))
	case "counter":
		if err := need(2); err != nil {
			return err
		}
		price, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("price: %w", err)
		}
		return c.CounterOffer(ctx, models.ID(args[0]), price, strings.Join(args[2:], " "))
	case "open":
		if err := need(1); err != nil {
			return err
		}
		id := args[0]
		if id == "-" {
			id = ""
		}
		return c.SetActiveConversation(ctx, models.ID(id))
	case "send":
		if err := need(2); err != nil {
			return err
		}
		m, err := c.SendMessage(ctx, models.ID(args[0]), strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "sent %s\n", m.ID)
		return nil
	case "read":
		return c.MarkAllNotificationsRead(ctx)
	case "subscribe":
		if err := need(1); err != nil {
			return err
		}
		sub, err := c.Subscribe(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(out, sub)
	case "location":
		if err := need(2); err != nil {
			return err
		}
		lat, err1 := strconv.ParseFloat(args[0], 64)
		lon, err2 := strconv.ParseFloat(args[1], 64)
		if err := errors.Join(err1, err2); err != nil {
			return fmt.Errorf("coordinates: %w", err)
		}
		sent, err := c.ReportLocation(models.Coord{Lat: lat, Lon: lon})
		if err != nil {
			return err
		}
		if !sent {
			fmt.Fprintln(out, "throttled")
		}
		return nil
	default:
		return errUsage
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
