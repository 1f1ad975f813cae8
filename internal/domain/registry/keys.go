package registry

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	keyPrefixUserFD    = "ws:user_fd:"
	keyPrefixFDUserMap = "ws:fd_user_map:"
	keyPrefixQueue     = "ws:notification_queue:"
	keyActiveUsers     = "ws:active_users"
	queueTTLSeconds    = 7 * 24 * 60 * 60 // 7 days

	// BrokerChannel is the pub/sub channel Feeder A subscribes to. External
	// producers publish on it; the Dispatcher never does.
	BrokerChannel = "ws:notification_queue:"
)

// userFDKey is the forward binding key: ws:user_fd:<userID> -> "<serverID>|<handle>".
func userFDKey(userID string) string {
	return keyPrefixUserFD + userID
}

// fdUserMapKey is the inverse binding key: ws:fd_user_map:<serverID>:<handle> -> userID.
//
// Widened from the bare ws:fd_user_map:<handle> form because a handle is
// only ever meaningful paired with the server process that issued it;
// two processes can otherwise reuse the same handle value concurrently.
func fdUserMapKey(serverID string, handle uint64) string {
	return fmt.Sprintf("%s%s:%d", keyPrefixFDUserMap, serverID, handle)
}

func queueKey(userID string) string {
	return keyPrefixQueue + userID
}

func encodeBinding(serverID string, handle uint64) string {
	return fmt.Sprintf("%s|%d", serverID, handle)
}

// decodeBinding splits a "<serverID>|<handle>" value. Returns ok=false for
// any malformed value, which callers treat as a stale/corrupt binding.
func decodeBinding(raw string) (serverID string, handle uint64, ok bool) {
	idx := strings.LastIndexByte(raw, '|')
	if idx < 0 {
		return "", 0, false
	}
	serverID = raw[:idx]
	h, err := strconv.ParseUint(raw[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return serverID, h, true
}
