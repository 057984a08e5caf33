package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/courseaccess/internal/config"
	"github.com/smallbiznis/courseaccess/internal/providers/email"
)

const (
	templateAccessGranted = "access_granted"
	templateWelcome       = "welcome"
	templateAdminAlert    = "admin_alert"

	alertSubject = "ALERT: Failed to process course purchase"
)

type notifier struct {
	provider email.Provider
	renderer *email.Renderer
	cfg      config.FulfillmentConfig
}

type courseEmail struct {
	Name         string
	Email        string
	TempPassword string
	ProductName  string
	LoginURL     string
	LaunchNote   string
	SignOff      string
}

type adminAlert struct {
	Email      string
	SessionID  string
	EventID    string
	Status     string
	IdentityID string
	Error      string
}

func (n *notifier) accessGranted(ctx context.Context, to, name string) error {
	return n.send(ctx, n.cfg.From, to,
		"Your Course Access is Ready! - "+n.cfg.ProductName,
		templateAccessGranted, n.courseEmail(to, name, ""))
}

// welcome is the only place the temporary password ever leaves the process.
func (n *notifier) welcome(ctx context.Context, to, name, tempPassword string) error {
	return n.send(ctx, n.cfg.From, to,
		"Welcome! Your Course Access + Login Details - "+n.cfg.ProductName,
		templateWelcome, n.courseEmail(to, name, tempPassword))
}

func (n *notifier) adminAlert(ctx context.Context, alert adminAlert) error {
	return n.send(ctx, n.cfg.AlertFrom, n.cfg.AlertTo, alertSubject, templateAdminAlert, alert)
}

func (n *notifier) courseEmail(to, name, tempPassword string) courseEmail {
	return courseEmail{
		Name:         name,
		Email:        to,
		TempPassword: tempPassword,
		ProductName:  n.cfg.ProductName,
		LoginURL:     n.cfg.LoginURL,
		LaunchNote:   n.cfg.LaunchNote,
		SignOff:      n.cfg.SignOff,
	}
}

func (n *notifier) send(ctx context.Context, from, to, subject, template string, data any) error {
	html, err := n.renderer.Render(template, data)
	if err != nil {
		return err
	}
	return n.provider.Send(ctx, email.Message{
		From:    from,
		To:      []string{strings.TrimSpace(to)},
		Subject: subject,
		HTML:    html,
	})
}

func greeting(names ...string) string {
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return "there"
}
