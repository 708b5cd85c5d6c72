package telephony

import (
	"encoding/xml"
	"fmt"
)

// Voice and language settings for TwiML verbs.
const (
	DefaultVoice    = "Polly.Joanna"
	DefaultLanguage = "en-US"
)

// Say speaks text to the caller.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Gather collects a spoken answer and posts the transcription to Action.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	Language      string   `xml:"language,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
}

// Redirect fetches the next TwiML document from Action.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

// Pause waits before the next verb.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// TwiMLResponse is a TwiML document. Verbs execute in order.
type TwiMLResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Says     []Say
	Gather   *Gather
	Pause    *Pause
	Redirect *Redirect
	Hangup   *Hangup
}

// Render serializes the document with the XML declaration Twilio expects.
func (r TwiMLResponse) Render() ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to render TwiML: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// NewSay constructs a Say verb with the default voice.
func NewSay(text string) Say {
	return Say{Voice: DefaultVoice, Text: text}
}

// NewGather constructs a speech Gather posting to action.
func NewGather(action string) *Gather {
	return &Gather{
		Input:         "speech",
		Action:        action,
		Method:        "POST",
		Language:      DefaultLanguage,
		SpeechTimeout: "auto",
	}
}
