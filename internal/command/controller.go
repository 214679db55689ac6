// Package command drives the pad's command sub-channel: reset, run and
// language changes.
package command

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/codepad/padclient/internal/lang"
	"github.com/codepad/padclient/internal/protocol"
	"github.com/codepad/padclient/internal/ws"
)

// Sender writes command content to the session channel.
type Sender interface {
	Send(tag protocol.Tag, content protocol.Content) error
}

// Source supplies the code to run.
type Source interface {
	Value() string
}

type Controller struct {
	sender    Sender
	registry  *lang.Registry
	selection *lang.Selection
	log       zerolog.Logger
}

func New(sender Sender, registry *lang.Registry, selection *lang.Selection, logger zerolog.Logger) *Controller {
	return &Controller{
		sender:    sender,
		registry:  registry,
		selection: selection,
		log:       logger.With().Str("component", "command").Logger(),
	}
}

func (c *Controller) SendReset() error {
	return c.send(protocol.Reset{})
}

func (c *Controller) SendRunCode(code string) error {
	return c.send(protocol.RunCode{Code: code})
}

// RunDocument sends the current content of src for execution.
func (c *Controller) RunDocument(src Source) error {
	return c.SendRunCode(src.Value())
}

// SendSetLanguage asks the server to switch language. The local selection
// only changes once the server confirms.
func (c *Controller) SendSetLanguage(langID string) error {
	if _, ok := c.registry.Lookup(langID); !ok {
		return fmt.Errorf("command: unknown language %q", langID)
	}
	return c.send(protocol.SetLanguage{LangID: langID})
}

func (c *Controller) send(req protocol.CommandRequest) error {
	if err := c.sender.Send(protocol.TagCommand, req); err != nil {
		c.log.Debug().Err(err).Msgf("%T not sent", req)
		return err
	}
	return nil
}

// OnInboundCommandResponse applies a server response. A set_lang naming an
// unknown language is ignored.
func (c *Controller) OnInboundCommandResponse(resp protocol.CommandResponse) {
	if resp.SetLang == nil {
		return
	}
	l, ok := c.registry.Lookup(*resp.SetLang)
	if !ok {
		c.log.Debug().Str("lang", *resp.SetLang).Msg("ignoring unknown language")
		return
	}
	c.selection.Set(l)
}

// Listen routes command frames from ch to the controller.
func (c *Controller) Listen(ch *ws.Channel) *ws.Subscription {
	return ch.AddEventListener(ws.EventMessage, func(ev ws.Event) {
		if resp, ok := ev.Data.(protocol.CommandResponse); ok {
			c.OnInboundCommandResponse(resp)
		}
	}, ws.WithSubChannel(protocol.SubChannelCommand), ws.WithConverter(func(content protocol.Content) (any, error) {
		resp, ok := content.(protocol.CommandResponse)
		if !ok {
			return nil, &protocol.ProtocolError{Op: "convert", Detail: fmt.Sprintf("%T is not a command response", content)}
		}
		return resp, nil
	}))
}
