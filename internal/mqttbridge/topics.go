package mqttbridge

import (
	"fmt"
	"strings"
)

// splitEntity splits "sensor.cellar_temperature" into domain and object id
func splitEntity(entity string) (string, string, error) {
	domain, object, ok := strings.Cut(entity, ".")
	if !ok || domain == "" || object == "" || strings.ContainsAny(entity, "/+#") {
		return "", "", fmt.Errorf("invalid entity id %q", entity)
	}
	return domain, object, nil
}

// StateTopic returns the statestream topic carrying the state of entity
func StateTopic(prefix, entity string) (string, error) {
	domain, object, err := splitEntity(entity)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s/state", prefix, domain, object), nil
}

// EntityFromStateTopic is the inverse of StateTopic
func EntityFromStateTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "state" || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "." + parts[1], true
}

// CommandTopic returns the topic a switch listens on for ON/OFF
func CommandTopic(prefix, entity string) (string, error) {
	domain, object, err := splitEntity(entity)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s/set", prefix, domain, object), nil
}

// ModeTopic carries ON/OFF to enable or disable automatic control of a unit
func ModeTopic(prefix, unitID string) string {
	return fmt.Sprintf("%s/%s/mode/set", prefix, unitID)
}

// ResetTopic empties the sample window of a unit on any message
func ResetTopic(prefix, unitID string) string {
	return fmt.Sprintf("%s/%s/reset", prefix, unitID)
}

// AttributesTopic carries the retained JSON attributes of a unit
func AttributesTopic(prefix, unitID string) string {
	return fmt.Sprintf("%s/%s/attributes", prefix, unitID)
}

// LevelTopic carries the retained level of a unit
func LevelTopic(prefix, unitID string) string {
	return fmt.Sprintf("%s/%s/state", prefix, unitID)
}

// parseState normalizes a statestream payload. Strings may arrive JSON quoted.
func parseState(payload []byte) string {
	s := strings.TrimSpace(string(payload))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return s
}

// parseSwitch reads an ON/OFF style payload
func parseSwitch(payload []byte) (bool, error) {
	switch strings.ToLower(parseState(payload)) {
	case "on", "true", "1", "fan_only":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("unrecognized switch payload %q", payload)
	}
}
