package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"meshbridge/internal/config"
	"meshbridge/internal/domain"
	"meshbridge/internal/protocol"
)

const (
	// maxMessageText is the UTF-8 byte budget of one text message.
	maxMessageText = 140

	// maxOwnerName is the firmware's advertised name limit.
	maxOwnerName = 31

	minChannel = 0
	maxChannel = 7

	// messagesDrainBatch bounds the device drain run before a history read.
	messagesDrainBatch = 200
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.configFields())
}

func (s *Server) configFields() map[string]any {
	cfg := s.store.Get()
	app := s.store.App()

	fields := map[string]any{
		"serial_port": cfg.Target.String(),
		"baud":        app.Connection.SerialBaud,
		"connected":   cfg.Connected,
		"transport":   string(cfg.Target.Kind),
		"target":      cfg.Target.String(),
	}
	if cfg.Target.Kind == config.TransportSerial {
		fields["esp_base_url"] = "serial://" + cfg.Target.SerialPort
	} else {
		fields["esp_base_url"] = cfg.Target.String()
		fields["tcp_host"] = cfg.Target.Host
		fields["tcp_port"] = cfg.Target.Port
	}

	return fields
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readJSONBody(w, r)
	if !ok {
		return
	}

	raw, _ := body["serial_port"].(string)
	if strings.TrimSpace(raw) == "" {
		raw, _ = body["esp_base_url"].(string)
	}
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, errFieldSerialPortRequired, "")

		return
	}

	baud := parseIntValue(body["baud"], s.store.App().Connection.SerialBaud, config.MinSerialBaud, config.MaxSerialBaud)

	if _, err := s.store.SetTarget(raw, baud); err != nil {
		code := errFieldSerialPortInvalid
		if errors.Is(err, config.ErrTargetRequired) {
			code = errFieldSerialPortRequired
		}
		writeError(w, http.StatusBadRequest, code, err.Error())

		return
	}

	// Probe the new target now so a bad port or host fails this request
	// instead of the next one.
	if err := s.session.WaitConnected(r.Context(), configProbeTimeout); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidSerialConfig, err.Error())

		return
	}

	writeOK(w, s.configFields())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}

	self, _ := s.dir.Self()
	dev := s.dir.Device()

	ownerName := self.Name
	if ownerName == "" {
		ownerName = "MeshCore Node"
	}
	hwModel := dev.Manufacturer
	if hwModel == "" {
		hwModel = "MeshCore"
	}

	writeData(w, map[string]any{
		"device": map[string]any{
			"hw_model":         hwModel,
			"firmware_version": dev.FirmwareVersion,
			"build_date":       dev.BuildDate,
			"reboot_counter":   nil,
		},
		"owner": map[string]any{
			"id":         s.dir.SelfID(),
			"long_name":  ownerName,
			"short_name": shortName(ownerName),
		},
		"wifi": map[string]any{
			"ip":   nil,
			"rssi": nil,
		},
		"radio": map[string]any{
			"freq_mhz":     self.FreqMHz,
			"bw_khz":       self.BwKHz,
			"sf":           self.SF,
			"cr":           self.CR,
			"tx_power_dbm": self.TxPowerDBm,
		},
		"meshcore": map[string]any{
			"protocol_version": protocol.Version,
			"max_contacts":     dev.MaxContacts,
			"max_channels":     dev.MaxChannels,
		},
	})
}

func (s *Server) handleGetNodeConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}

	self, _ := s.dir.Self()
	ownerName := self.Name
	if ownerName == "" {
		ownerName = "MeshCore Node"
	}

	writeData(w, map[string]any{
		"owner": map[string]any{
			"id":         s.dir.SelfID(),
			"long_name":  ownerName,
			"short_name": shortName(ownerName),
			"node_num":   0,
		},
		"wifi": map[string]any{
			"enabled": false,
			"ssid":    "",
			"psk_set": false,
		},
	})
}

func (s *Server) handlePostNodeConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	body, ok := s.readJSONBody(w, r)
	if !ok {
		return
	}

	desired := ""
	if long, _ := body["longName"].(string); strings.TrimSpace(long) != "" {
		desired = trimName(long)
	} else if short, _ := body["shortName"].(string); strings.TrimSpace(short) != "" {
		desired = trimName(short)
	}

	ownerChanged := false
	if desired != "" {
		if err := s.session.SetOwnerName(r.Context(), desired); err != nil {
			writeSessionError(w, err, errSetNameFailed)

			return
		}
		ownerChanged = true
	}

	writeData(w, map[string]any{
		"owner_changed":    ownerChanged,
		"wifi_changed":     false,
		"reboot_scheduled": false,
		"reboot_requested": parseBoolValue(body["reboot"], false),
	})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}

	contacts, err := s.session.SyncContacts(r.Context())
	if err != nil {
		writeSessionError(w, err, errInternalError)

		return
	}

	self, _ := s.dir.Self()
	selfName := self.Name
	if selfName == "" {
		selfName = "MeshCore Node"
	}
	selfID := s.dir.SelfID()

	nodes := make([]map[string]any, 0, len(contacts)+1)
	nodes = append(nodes, nodeEntry(selfID, selfName, time.Now().Unix()))
	for _, c := range contacts {
		nodes = append(nodes, nodeEntry(c.ID, c.Name, int64(c.LastAdvert)))
	}

	sortNodes(nodes)
	writeData(w, map[string]any{"nodes": nodes})
}

func sortNodes(nodes []map[string]any) {
	key := func(n map[string]any) string {
		name, _ := n["long_name"].(string)
		if name == "" {
			name, _ = n["id"].(string)
		}

		return strings.ToLower(name)
	}
	sort.Slice(nodes, func(i, j int) bool { return key(nodes[i]) < key(nodes[j]) })
}

func nodeEntry(id, name string, lastHeard int64) map[string]any {
	return map[string]any{
		"num":        0,
		"id":         id,
		"short_name": shortName(name),
		"long_name":  name,
		"snr":        nil,
		"last_heard": lastHeard,
		"user": map[string]any{
			"id":        id,
			"shortName": shortName(name),
			"longName":  name,
		},
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}

	// Pull anything still queued on the device so the response is current.
	if err := s.session.DrainMessages(r.Context(), messagesDrainBatch); err != nil {
		writeSessionError(w, err, errInternalError)

		return
	}

	q := r.URL.Query()
	filter := domain.HistoryFilter{
		Limit:            parseIntParam(q.Get("limit"), domain.DefaultQueryLimit, 1, domain.MaxQueryLimit),
		IncludeBroadcast: parseBoolParam(q.Get("includeBroadcast"), true),
		IncludeDM:        parseBoolParam(q.Get("includeDm"), true),
	}

	if raw := q.Get("since"); raw != "" {
		since := int64(parseIntParam(raw, 0, 0, 0))
		filter.Since = &since
	}
	if raw := q.Get("channel"); raw != "" {
		ch := parseIntParam(raw, 0, minChannel, maxChannel)
		filter.Channel = &ch
	}
	if peer := strings.TrimSpace(q.Get("peer")); peer != "" {
		peerID, err := s.dir.NormalizeID(peer)
		if err != nil {
			writeError(w, http.StatusBadRequest, errFieldPeerInvalid, err.Error())

			return
		}
		filter.PeerID = peerID
	}

	messages := s.hist.Query(filter)
	writeData(w, map[string]any{
		"count":    len(messages),
		"messages": messages,
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if !s.requireSession(w) {
		return
	}
	body, ok := s.readJSONBody(w, r)
	if !ok {
		return
	}

	text, _ := body["text"].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		writeError(w, http.StatusBadRequest, errFieldTextRequired, "")

		return
	}
	if len(text) > maxMessageText {
		writeError(w, http.StatusBadRequest, errTextTooLong, "")

		return
	}

	if to, private := privateRecipient(body["to"]); private {
		res, err := s.session.SendPrivateMessage(r.Context(), to, text)
		if err != nil {
			writeSessionError(w, err, errSendPrivateFailed)

			return
		}
		writeData(w, map[string]any{
			"mode":           "private",
			"to":             res.Message.ToID,
			"packet_id":      0,
			"want_ack":       res.WantAck,
			"est_timeout_ms": res.EstTimeoutMs,
		})

		return
	}

	channel, ok := channelFromBody(body["channel"])
	if !ok {
		writeError(w, http.StatusBadRequest, errFieldChannelInvalid, "channel must be an integer between 0 and 7")

		return
	}

	res, err := s.session.SendChannelMessage(r.Context(), channel, text)
	if err != nil {
		writeSessionError(w, err, errSendChannelFailed)

		return
	}
	writeData(w, map[string]any{
		"mode":      "channel",
		"channel":   res.Message.Channel,
		"packet_id": 0,
		"want_ack":  false,
	})
}

// privateRecipient reports whether the "to" field addresses a specific
// contact rather than the broadcast pseudo-addresses.
func privateRecipient(v any) (string, bool) {
	to, _ := v.(string)
	to = strings.TrimSpace(to)
	if to == "" {
		return "", false
	}
	switch strings.ToLower(to) {
	case domain.BroadcastID, "4294967295", "broadcast":
		return "", false
	}

	return to, true
}

func channelFromBody(v any) (int, bool) {
	switch value := v.(type) {
	case nil:
		return 0, true
	case float64:
		ch := int(value)
		if float64(ch) != value || ch < minChannel || ch > maxChannel {
			return 0, false
		}

		return ch, true
	case string:
		ch, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || ch < minChannel || ch > maxChannel {
			return 0, false
		}

		return ch, true
	default:
		return 0, false
	}
}

func (s *Server) requireSession(w http.ResponseWriter) bool {
	if !s.session.Connected() {
		writeError(w, http.StatusBadGateway, errTransportNotConnected, "no active device session")

		return false
	}

	return true
}

// readJSONBody enforces the body protocol: a Content-Length is required,
// bounded, and must carry a JSON object.
func (s *Server) readJSONBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	size, err := strconv.Atoi(r.Header.Get("Content-Length"))
	if err != nil {
		writeError(w, http.StatusBadRequest, errInvalidContentLength, "")

		return nil, false
	}
	if size <= 0 {
		writeError(w, http.StatusBadRequest, errMissingBody, "")

		return nil, false
	}
	if size > maxRequestBody {
		writeError(w, http.StatusRequestEntityTooLarge, errBodyTooLarge, "")

		return nil, false
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSON, "")

		return nil, false
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		writeError(w, http.StatusBadRequest, errInvalidJSON, "")

		return nil, false
	}
	body, ok := parsed.(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, errJSONObjectRequired, "")

		return nil, false
	}

	return body, true
}

func parseIntParam(raw string, def, min, max int) int {
	out, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	if min < max {
		if out < min {
			out = min
		}
		if out > max {
			out = max
		}
	} else if out < min {
		out = min
	}

	return out
}

func parseIntValue(v any, def, min, max int) int {
	switch value := v.(type) {
	case float64:
		return clampInt(int(value), min, max)
	case string:
		return parseIntParam(value, def, min, max)
	default:
		return def
	}
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}

	return v
}

func parseBoolParam(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func parseBoolValue(v any, def bool) bool {
	switch value := v.(type) {
	case bool:
		return value
	case float64:
		return value != 0
	case string:
		return parseBoolParam(value, def)
	default:
		return def
	}
}

func trimName(name string) string {
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > maxOwnerName {
		return string(runes[:maxOwnerName])
	}

	return name
}

func shortName(name string) string {
	if name == "" {
		return "MC"
	}
	runes := []rune(name)
	if len(runes) > 4 {
		runes = runes[:4]
	}

	return string(runes)
}
