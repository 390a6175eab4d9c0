package live

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the variant held by a [Message].
type Kind int

const (
	// KindSetup is the first message of every session, client to server.
	KindSetup Kind = iota + 1
	// KindTextInput carries user text, client to server.
	KindTextInput
	// KindAudioInput carries one PCM16 frame, client to server.
	KindAudioInput
	// KindTextReply carries model text or a transcription, server to client.
	KindTextReply
	// KindAudioReply carries one chunk of reply audio, server to client.
	KindAudioReply
	// KindSetupAck acknowledges the setup message, server to client.
	KindSetupAck
)

var kindNames = map[Kind]string{
	KindSetup:      "setup",
	KindTextInput:  "text_input",
	KindAudioInput: "audio_input",
	KindTextReply:  "text_reply",
	KindAudioReply: "audio_reply",
	KindSetupAck:   "setup_ack",
}

// String returns the snake_case name of k.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Modality selects the form of the model's replies.
type Modality string

const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// Reply senders.
const (
	SenderModel = "model"
	SenderUser  = "user"
)

// Message is one unit on the wire. Which fields are meaningful depends on
// Kind:
//
//   - Setup: Model, Modality, Instructions, Voice
//   - TextInput, TextReply: Text (and Sender for replies)
//   - AudioInput, AudioReply: Audio, SampleRate, MIMEType
//
// An AudioReply with Raw set came from a payload that was not JSON at all; its
// Audio is the payload verbatim.
type Message struct {
	Kind Kind

	Text   string
	Sender string

	Audio      []byte
	MIMEType   string
	SampleRate int
	Raw        bool

	Model        string
	Modality     Modality
	Instructions string
	Voice        string
}

// ── Outgoing JSON ──────────────────────────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []Modality    `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Text  string      `json:"text,omitempty"`
	Audio *inlineData `json:"audio,omitempty"`
}

// ── Incoming JSON ──────────────────────────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *serverError     `json:"error,omitempty"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── Codec ──────────────────────────────────────────────────────────────────────

// PCMMIMEType returns the MIME type for mono PCM16 at rate.
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// Encode serializes a client-to-server message.
func Encode(m Message) ([]byte, error) {
	var v any
	switch m.Kind {
	case KindSetup:
		model := m.Model
		if !strings.HasPrefix(model, "models/") {
			model = "models/" + model
		}
		modality := m.Modality
		if modality == "" {
			modality = ModalityAudio
		}
		sm := setupMessage{Setup: setupConfig{
			Model:            model,
			GenerationConfig: generationConfig{ResponseModalities: []Modality{modality}},
		}}
		if m.Instructions != "" {
			sm.Setup.SystemInstruction = &systemInstruction{Parts: []part{{Text: m.Instructions}}}
		}
		if m.Voice != "" && modality == ModalityAudio {
			sm.Setup.GenerationConfig.SpeechConfig = &speechConfig{
				VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: m.Voice}},
			}
		}
		v = sm
	case KindTextInput:
		if m.Text == "" {
			return nil, errors.New("live: encode: empty text")
		}
		v = realtimeInputMessage{RealtimeInput: realtimeInput{Text: m.Text}}
	case KindAudioInput:
		if len(m.Audio) == 0 {
			return nil, errors.New("live: encode: empty audio frame")
		}
		mime := m.MIMEType
		if mime == "" {
			mime = PCMMIMEType(m.SampleRate)
		}
		v = realtimeInputMessage{RealtimeInput: realtimeInput{Audio: &inlineData{
			MIMEType: mime,
			Data:     base64.StdEncoding.EncodeToString(m.Audio),
		}}}
	default:
		return nil, fmt.Errorf("live: encode: %s is not a client message", m.Kind)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("live: marshal: %w", err)
	}
	return data, nil
}

// Parse decodes one inbound payload into zero or more messages, in the order
// they appear in the payload.
//
// A payload that is not JSON is taken to be raw reply audio. A JSON payload
// must be an object; recognized fields become messages and unknown fields are
// ignored. A server error object is returned as a *ServerError alongside any
// messages decoded before it. Any other failure is a *DecodeError and no
// messages are returned.
func Parse(data []byte) ([]Message, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty payload"}
	}
	if !json.Valid(data) {
		return []Message{{Kind: KindAudioReply, Audio: data, Raw: true}}, nil
	}

	var sm serverMessage
	if err := json.Unmarshal(data, &sm); err != nil {
		return nil, &DecodeError{Reason: "unexpected message shape", Err: err}
	}

	var msgs []Message
	if sm.SetupComplete != nil {
		msgs = append(msgs, Message{Kind: KindSetupAck})
	}
	if sc := sm.ServerContent; sc != nil {
		var err error
		if msgs, err = appendContent(msgs, sc); err != nil {
			return nil, err
		}
	}
	if se := sm.Error; se != nil {
		return msgs, &ServerError{Code: se.Code, Status: se.Status, Message: se.Message}
	}
	return msgs, nil
}

func appendContent(msgs []Message, sc *serverContent) ([]Message, error) {
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		msgs = append(msgs, Message{Kind: KindTextReply, Sender: SenderUser, Text: t.Text})
	}
	if sc.ModelTurn != nil {
		var text strings.Builder
		var audio []Message
		for i, p := range sc.ModelTurn.Parts {
			text.WriteString(p.Text)
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, &DecodeError{Reason: fmt.Sprintf("part %d: invalid base64 audio", i), Err: err}
			}
			if len(pcm) == 0 {
				continue
			}
			audio = append(audio, Message{
				Kind:       KindAudioReply,
				Audio:      pcm,
				MIMEType:   p.InlineData.MIMEType,
				SampleRate: rateFromMIME(p.InlineData.MIMEType),
			})
		}
		if text.Len() > 0 {
			msgs = append(msgs, Message{Kind: KindTextReply, Sender: SenderModel, Text: text.String()})
		}
		msgs = append(msgs, audio...)
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		msgs = append(msgs, Message{Kind: KindTextReply, Sender: SenderModel, Text: t.Text})
	}
	return msgs, nil
}

// rateFromMIME extracts the rate parameter of e.g. "audio/pcm;rate=24000".
// It returns 0 when absent.
func rateFromMIME(mime string) int {
	for _, param := range strings.Split(mime, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if ok && strings.EqualFold(k, "rate") {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

// ParseClientMessage decodes a client-to-server payload produced by
// [Encode]. It is the server-side counterpart used by local endpoints and
// tests.
func ParseClientMessage(data []byte) (Message, error) {
	var raw struct {
		Setup         *setupConfig   `json:"setup"`
		RealtimeInput *realtimeInput `json:"realtimeInput"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, &DecodeError{Reason: "client message", Err: err}
	}
	switch {
	case raw.Setup != nil:
		m := Message{Kind: KindSetup, Model: raw.Setup.Model}
		if mods := raw.Setup.GenerationConfig.ResponseModalities; len(mods) > 0 {
			m.Modality = mods[0]
		}
		if si := raw.Setup.SystemInstruction; si != nil && len(si.Parts) > 0 {
			m.Instructions = si.Parts[0].Text
		}
		if sc := raw.Setup.GenerationConfig.SpeechConfig; sc != nil {
			m.Voice = sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName
		}
		return m, nil
	case raw.RealtimeInput != nil && raw.RealtimeInput.Audio != nil:
		pcm, err := base64.StdEncoding.DecodeString(raw.RealtimeInput.Audio.Data)
		if err != nil {
			return Message{}, &DecodeError{Reason: "invalid base64 audio", Err: err}
		}
		return Message{
			Kind:       KindAudioInput,
			Audio:      pcm,
			MIMEType:   raw.RealtimeInput.Audio.MIMEType,
			SampleRate: rateFromMIME(raw.RealtimeInput.Audio.MIMEType),
		}, nil
	case raw.RealtimeInput != nil && raw.RealtimeInput.Text != "":
		return Message{Kind: KindTextInput, Text: raw.RealtimeInput.Text}, nil
	default:
		return Message{}, &DecodeError{Reason: "unrecognized client message"}
	}
}
