package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"handover-sim/pkg/types"
)

// KeyPrefix namespaces every key the store writes.
const KeyPrefix = "hosim:"

// SessionKey returns the hash key of one session of a run.
func SessionKey(runID string, imsi uint64, bearer int) string {
	return fmt.Sprintf("%s%s:session:%d:%d", KeyPrefix, runID, imsi, bearer)
}

// IndexKey returns the set key listing the sessions of a run.
func IndexKey(runID string) string {
	return KeyPrefix + runID + ":sessions"
}

// Redis stores sessions as hashes, one per bearer, indexed by a per-run set.
type Redis struct {
	client *redis.Client
	runID  string
}

// NewRedis wraps an existing client. Sessions are written under runID.
func NewRedis(client *redis.Client, runID string) *Redis {
	return &Redis{client: client, runID: runID}
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, runID string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return NewRedis(client, runID), nil
}

// RunID returns the namespace sessions are written under.
func (r *Redis) RunID() string {
	return r.runID
}

// Save writes s and adds it to the run index in one transaction.
func (r *Redis) Save(ctx context.Context, s types.Session) error {
	member := fmt.Sprintf("%d:%d", s.IMSI, s.Bearer)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, SessionKey(r.runID, s.IMSI, s.Bearer), sessionToMap(s))
		pipe.SAdd(ctx, IndexKey(r.runID), member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", member, err)
	}
	return nil
}

// Get returns the session of bearer on imsi.
func (r *Redis) Get(ctx context.Context, imsi uint64, bearer int) (types.Session, error) {
	m, err := r.client.HGetAll(ctx, SessionKey(r.runID, imsi, bearer)).Result()
	if err != nil {
		return types.Session{}, err
	}
	if len(m) == 0 {
		return types.Session{}, ErrSessionNotFound
	}
	return mapToSession(imsi, bearer, m)
}

// List returns every session of the run ordered by IMSI then bearer.
func (r *Redis) List(ctx context.Context) ([]types.Session, error) {
	members, err := r.client.SMembers(ctx, IndexKey(r.runID)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	type ref struct {
		imsi   uint64
		bearer int
	}
	refs := make([]ref, 0, len(members))
	pipe := r.client.Pipeline()
	var cmds []*redis.MapStringStringCmd
	for _, m := range members {
		imsi, bearer, err := parseMember(m)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref{imsi, bearer})
		cmds = append(cmds, pipe.HGetAll(ctx, SessionKey(r.runID, imsi, bearer)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	out := make([]types.Session, 0, len(cmds))
	for i, cmd := range cmds {
		m, err := cmd.Result()
		if err != nil || len(m) == 0 {
			continue
		}
		s, err := mapToSession(refs[i].imsi, refs[i].bearer, m)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sortSessions(out)
	return out, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func sessionToMap(s types.Session) map[string]interface{} {
	return map[string]interface{}{
		"dl_port":         s.DownlinkPort,
		"ul_port":         s.UplinkPort,
		"qos":             string(s.QoS),
		"start_offset_ns": int64(s.StartOffset),
		"tft":             s.TFT.String(),
	}
}

func mapToSession(imsi uint64, bearer int, m map[string]string) (types.Session, error) {
	s := types.Session{IMSI: imsi, Bearer: bearer, QoS: types.QoSClass(m["qos"])}

	dl, err := strconv.ParseUint(m["dl_port"], 10, 16)
	if err != nil {
		return s, fmt.Errorf("invalid dl_port: %w", err)
	}
	ul, err := strconv.ParseUint(m["ul_port"], 10, 16)
	if err != nil {
		return s, fmt.Errorf("invalid ul_port: %w", err)
	}
	offset, err := strconv.ParseInt(m["start_offset_ns"], 10, 64)
	if err != nil {
		return s, fmt.Errorf("invalid start_offset_ns: %w", err)
	}

	s.DownlinkPort = uint16(dl)
	s.UplinkPort = uint16(ul)
	s.StartOffset = time.Duration(offset)
	s.TFT = types.BearerTFT(s.DownlinkPort, s.UplinkPort)
	return s, nil
}

func parseMember(m string) (uint64, int, error) {
	imsiStr, bearerStr, ok := strings.Cut(m, ":")
	if !ok {
		return 0, 0, fmt.Errorf("malformed session index entry %q", m)
	}
	imsi, err := strconv.ParseUint(imsiStr, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed session index entry %q: %w", m, err)
	}
	bearer, err := strconv.Atoi(bearerStr)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed session index entry %q: %w", m, err)
	}
	return imsi, bearer, nil
}
