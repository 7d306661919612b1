package client

import "chansock/event"

// applyHandshake merges the server's [uid, csrf, handshake-data?, first?]
// tail into the socket state and marks it open — shared by the ws and
// ajax engines since both receive the identical handshake shape. The
// first-open tail element is always present on the wire; older peers
// that omit it are tolerated.
func applyHandshake(deps *coreDeps, transportName string, payload any) {
	fields, ok := payload.([]any)
	if !ok || len(fields) == 0 {
		return
	}
	get := func(i int) any {
		if i < len(fields) {
			return fields[i]
		}
		return nil
	}
	uid, _ := get(0).(string)
	csrf, _ := get(1).(string)
	handshakeData := get(2)
	firstOpen, _ := get(3).(bool)

	if csrf == "" {
		deps.log.Warn("handshake arrived without a csrf token")
	}

	publishState(deps, func(s *SocketState) {
		s.Transport = transportName
		s.Open = true
		s.EverOpened = true
		s.UID = uid
		s.CSRFToken = csrf
		s.HandshakeData = handshakeData
		s.FirstOpen = firstOpen
	})
}

// deliverBatch unpacks the vector-of-events shape a flush delivers and
// emits each as a received event, dropping anything in the reserved
// chsk/* namespace: system events never ride the application stream.
func deliverBatch(deps *coreDeps, value any) {
	batch, ok := value.([]any)
	if !ok {
		deliverEvent(deps, event.BadEvent(value))
		return
	}
	for _, item := range batch {
		ev, ok := event.FromValue(item)
		if !ok {
			deliverEvent(deps, event.BadEvent(item))
			continue
		}
		if event.IsSystem(ev.ID) {
			continue
		}
		deliverEvent(deps, ev)
	}
}
