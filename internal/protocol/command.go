package protocol

import (
	"encoding/json"
)

// CommandRequest is one of Reset, RunCode or SetLanguage.
type CommandRequest interface {
	Content
	commandRequest()
}

type Reset struct{}

type RunCode struct {
	Code string
}

type SetLanguage struct {
	LangID string
}

func (Reset) Tag() Tag       { return TagCommand }
func (RunCode) Tag() Tag     { return TagCommand }
func (SetLanguage) Tag() Tag { return TagCommand }

func (Reset) commandRequest()       {}
func (RunCode) commandRequest()     {}
func (SetLanguage) commandRequest() {}

func (Reset) wire() any {
	return struct {
		Reset []any `json:"reset"`
	}{[]any{}}
}

func (m RunCode) wire() any {
	return struct {
		RunCode string `json:"run_code"`
	}{m.Code}
}

func (m SetLanguage) wire() any {
	return struct {
		SetLang string `json:"set_lang"`
	}{m.LangID}
}

// CommandResponse is the sparse record servers send on the command
// sub-channel. Only SetLang is interpreted; unknown fields are ignored.
type CommandResponse struct {
	SetLang *string `json:"set_lang,omitempty"`
}

func (CommandResponse) Tag() Tag    { return TagCommand }
func (m CommandResponse) wire() any { return m }

func DecodeCommandResponse(raw json.RawMessage) (CommandResponse, error) {
	var resp CommandResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return CommandResponse{}, &ProtocolError{Op: "decode command response", Err: err}
	}
	return resp, nil
}

// DecodeCommandRequest decodes request content, preferring reset, then
// run_code, then set_lang.
func DecodeCommandRequest(raw json.RawMessage) (CommandRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, &ProtocolError{Op: "decode command request", Err: err}
	}
	if _, ok := fields["reset"]; ok {
		return Reset{}, nil
	}
	if v, ok := fields["run_code"]; ok && !isNull(v) {
		var code string
		if err := json.Unmarshal(v, &code); err != nil {
			return nil, &ProtocolError{Op: "decode command request", Detail: "run_code", Err: err}
		}
		return RunCode{Code: code}, nil
	}
	if v, ok := fields["set_lang"]; ok && !isNull(v) {
		var id string
		if err := json.Unmarshal(v, &id); err != nil {
			return nil, &ProtocolError{Op: "decode command request", Detail: "set_lang", Err: err}
		}
		return SetLanguage{LangID: id}, nil
	}
	return nil, &ProtocolError{Op: "decode command request", Detail: "no reset, run_code or set_lang field"}
}
