package realtime

import "strings"

// subjects builds NATS subjects under a prefix.
type subjects struct {
	prefix string
}

func (s subjects) room(room string, kind Kind) string {
	return s.prefix + ".room." + room + "." + string(kind)
}

func (s subjects) roomWildcard(room string) string {
	return s.prefix + ".room." + room + ".*"
}

func (s subjects) presence(action string) string {
	return s.prefix + ".presence." + action
}

// parseRoom extracts the room and kind from a room subject.
func (s subjects) parseRoom(subject string) (string, Kind, bool) {
	rest, ok := strings.CutPrefix(subject, s.prefix+".room.")
	if !ok {
		return "", "", false
	}
	room, kind, ok := strings.Cut(rest, ".")
	if !ok || room == "" || strings.Contains(kind, ".") {
		return "", "", false
	}
	return room, Kind(kind), true
}
