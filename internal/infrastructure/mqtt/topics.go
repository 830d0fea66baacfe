package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots.
//
//	esd/command/{system}/{point}     core → DCS bridge, device commands
//	esd/ack/{system}/{command_id}    DCS bridge → core, command outcome
//	esd/tag/{system}/{tag}           telemetry → core, live tag values
//	esd/core/status                  core online/offline (retained, LWT)
//	esd/core/execution/{id}/status   execution status (retained)
//	esd/core/event/{type}            execution and interlock events
const (
	TopicPrefix     = "esd"
	TopicPrefixCore = "esd/core"
)

// Topics builds ESD topic names. The zero value is ready to use.
type Topics struct{}

// DCSCommand is where a device command for point is published.
func (Topics) DCSCommand(system, point string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, system, point)
}

// DCSAck is where the bridge answers one command.
func (Topics) DCSAck(system, commandID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, system, commandID)
}

// AllDCSAcks matches every ack from one DCS system.
func (Topics) AllDCSAcks(system string) string {
	return fmt.Sprintf("%s/ack/%s/+", TopicPrefix, system)
}

// TagValue is where live values for one tag arrive.
func (Topics) TagValue(system, tag string) string {
	return fmt.Sprintf("%s/tag/%s/%s", TopicPrefix, system, tag)
}

// AllTagValues matches every tag from every system.
func (Topics) AllTagValues() string {
	return TopicPrefix + "/tag/+/+"
}

// CoreStatus carries the retained online/offline status of the core.
func (Topics) CoreStatus() string {
	return TopicPrefixCore + "/status"
}

// ExecutionStatus carries the retained status of one execution.
func (Topics) ExecutionStatus(executionID string) string {
	return fmt.Sprintf("%s/execution/%s/status", TopicPrefixCore, executionID)
}

// CoreEvent carries events of one type, e.g. interlock.tripped.
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// ParseTagTopic splits esd/tag/{system}/{tag}.
func ParseTagTopic(topic string) (system, tag string, ok bool) {
	return parseLeaf(topic, "tag")
}

// ParseAckTopic splits esd/ack/{system}/{command_id}.
func ParseAckTopic(topic string) (system, commandID string, ok bool) {
	return parseLeaf(topic, "ack")
}

func parseLeaf(topic, kind string) (string, string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != kind || parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
