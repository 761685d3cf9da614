package mqtt

import "strings"

// DefaultPrefix is the Ubidots device topic root.
const DefaultPrefix = "/v1.6/devices"

const lastValueSuffix = "lv"

// Topics builds device-scoped topic names.
type Topics struct {
	Prefix string
	Device string
}

// NewTopics returns the topic layout for device under prefix. An empty
// prefix selects DefaultPrefix.
func NewTopics(prefix, device string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{
		Prefix: strings.TrimRight(prefix, "/"),
		Device: device,
	}
}

// Publish is the topic telemetry batches are sent to.
func (t Topics) Publish() string {
	return t.Prefix + "/" + t.Device
}

// Command is the topic carrying the last value written to label.
func (t Topics) Command(label string) string {
	return t.Publish() + "/" + label + "/" + lastValueSuffix
}

// Label extracts the variable label from a command topic of this device.
func (t Topics) Label(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Publish()+"/")
	if !ok {
		return "", false
	}

	label, ok := strings.CutSuffix(rest, "/"+lastValueSuffix)
	if !ok || label == "" || strings.Contains(label, "/") {
		return "", false
	}

	return label, true
}
