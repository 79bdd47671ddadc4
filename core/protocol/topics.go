package protocol

import "strings"

// DefaultChannelPrefix is the root of every device topic.
const DefaultChannelPrefix = "d3a"

// Topics builds the topic names of one device:
//
//	<prefix>/<device>/<command>
//	<prefix>/<device>/response/<command>
//	<prefix>/<device>/events/{market,tick}
type Topics struct {
	base string
}

// NewTopics returns the topics of device under channelPrefix.
func NewTopics(channelPrefix, device string) Topics {
	if channelPrefix == "" {
		channelPrefix = DefaultChannelPrefix
	}
	return Topics{base: strings.TrimSuffix(channelPrefix, "/") + "/" + device}
}

// Base is the device prefix.
func (t Topics) Base() string { return t.base }

// Command is the topic a participant publishes name on.
func (t Topics) Command(name string) string { return t.base + "/" + name }

// Response is the topic responses to name are published on.
func (t Topics) Response(name string) string { return t.base + "/response/" + name }

// MarketEvent carries the market cycle snapshot.
func (t Topics) MarketEvent() string { return t.base + "/events/market" }

// TickEvent carries the tick notification.
func (t Topics) TickEvent() string { return t.base + "/events/tick" }

// Commands lists every command topic the device subscribes to.
func (t Topics) Commands() []string {
	out := []string{t.Command(RegisterCommand), t.Command(UnregisterCommand)}
	for _, k := range Kinds() {
		out = append(out, t.Command(k.String()))
	}
	return out
}

// CommandName extracts the command name from a command topic.
func (t Topics) CommandName(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.base+"/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
