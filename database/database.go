package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cufee/botto-feedback/config"
	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	creditsBucket      = []byte("credits")
	openRequestsBucket = []byte("open_requests")
)

var (
	// ErrOpenRequestNotFound - Entry is not in the channel list, it was closed already or never tracked
	ErrOpenRequestNotFound = errors.New("open request not found")
	// ErrChannelNotTracked - Channel has no open request list
	ErrChannelNotTracked = errors.New("channel is not tracked")
)

// DB - Feedback ledger backed by a bolt file.
// Every exported method holds mu for its full duration, commit included.
type DB struct {
	mu       sync.Mutex
	bolt     *bolt.DB
	channels []config.Channel
}

// Open - Open the ledger at path and make sure every channel has a list.
// A file that bolt cannot read is moved aside and replaced with a fresh store.
func Open(path string, channels []config.Channel) (*DB, error) {
	bdb, err := openBolt(path)
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("database %s is locked: %w", path, err)
		}
		aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
		log.WithError(err).WithField("path", path).Warnf("failed to open database, starting fresh and keeping the old file as %s", aside)
		if rerr := os.Rename(path, aside); rerr != nil && !os.IsNotExist(rerr) {
			return nil, fmt.Errorf("failed to move unreadable database aside: %w", rerr)
		}
		if bdb, err = openBolt(path); err != nil {
			return nil, err
		}
	}

	db := &DB{bolt: bdb}
	err = bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(creditsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(openRequestsBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}

	for _, c := range channels {
		if err := db.EnsureChannel(c); err != nil {
			bdb.Close()
			return nil, err
		}
	}
	return db, nil
}

func openBolt(path string) (*bolt.DB, error) {
	return bolt.Open(path, 0600, &bolt.Options{Timeout: 10 * time.Second})
}

// Close - Close the bolt file
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.bolt.Close()
}

// EnsureChannel - Create an empty open request list for a channel unless one exists
func (db *DB) EnsureChannel(c config.Channel) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	err := db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(openRequestsBucket)
		key := channelKey(c)
		if b.Get(key) != nil {
			return nil
		}
		return b.Put(key, []byte("[]"))
	})
	if err != nil {
		return fmt.Errorf("failed to create list for %s: %w", c, err)
	}
	for _, known := range db.channels {
		if known == c {
			return nil
		}
	}
	db.channels = append(db.channels, c)
	return nil
}

// TakeCredit - Remove and return the credit held by a user in a guild, nil if there is none
func (db *DB) TakeCredit(userID, guildID string) (*CreditEntry, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var entry *CreditEntry
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(creditsBucket)
		key := creditKey(userID, guildID)
		v := b.Get(key)
		if v == nil {
			return nil
		}
		var e CreditEntry
		if err := json.Unmarshal(v, &e); err != nil {
			return fmt.Errorf("bad credit entry %s: %w", key, err)
		}
		entry = &e
		return b.Delete(key)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GrantCredit - Set the credit for a user in a guild, replacing any existing one
func (db *DB) GrantCredit(userID, guildID string, entry CreditEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	entry.LastReply = entry.LastReply.UTC()
	bts, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return db.bolt.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(creditsBucket).Put(creditKey(userID, guildID), bts)
	})
}

// AddOpenRequest - Append a request to the channel list
func (db *DB) AddOpenRequest(c config.Channel, req OpenRequest) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.updateList(c, func(list []OpenRequest) ([]OpenRequest, error) {
		for _, r := range list {
			if r == req {
				return list, nil
			}
		}
		return append(list, req), nil
	})
}

// RemoveOpenRequest - Remove a request from the channel list, ErrOpenRequestNotFound if it is not there
func (db *DB) RemoveOpenRequest(c config.Channel, req OpenRequest) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.updateList(c, func(list []OpenRequest) ([]OpenRequest, error) {
		for i, r := range list {
			if r == req {
				return append(list[:i], list[i+1:]...), nil
			}
		}
		return nil, fmt.Errorf("%w: user %d message %d in %s", ErrOpenRequestNotFound, req.User, req.Message, c)
	})
}

// ForEachOpenRequest - Visit the channel list in insertion order
func (db *DB) ForEachOpenRequest(c config.Channel, visit func(OpenRequest)) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.bolt.View(func(tx *bolt.Tx) error {
		list, err := readList(tx, c)
		if err != nil {
			return err
		}
		for _, r := range list {
			visit(r)
		}
		return nil
	})
}

// OpenRequestCounts - Number of open requests per tracked channel
func (db *DB) OpenRequestCounts() (map[config.Channel]int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	counts := make(map[config.Channel]int, len(db.channels))
	err := db.bolt.View(func(tx *bolt.Tx) error {
		for _, c := range db.channels {
			list, err := readList(tx, c)
			if err != nil {
				return err
			}
			counts[c] = len(list)
		}
		return nil
	})
	return counts, err
}

func (db *DB) updateList(c config.Channel, change func([]OpenRequest) ([]OpenRequest, error)) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		list, err := readList(tx, c)
		if err != nil {
			return err
		}
		if list, err = change(list); err != nil {
			return err
		}
		bts, err := json.Marshal(list)
		if err != nil {
			return err
		}
		return tx.Bucket(openRequestsBucket).Put(channelKey(c), bts)
	})
}

func readList(tx *bolt.Tx, c config.Channel) ([]OpenRequest, error) {
	v := tx.Bucket(openRequestsBucket).Get(channelKey(c))
	if v == nil {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotTracked, c)
	}
	list := []OpenRequest{}
	if err := json.Unmarshal(v, &list); err != nil {
		return nil, fmt.Errorf("bad open request list for %s: %w", c, err)
	}
	return list, nil
}

func creditKey(userID, guildID string) []byte {
	return []byte(fmt.Sprintf("f_%s,%s", userID, guildID))
}

func channelKey(c config.Channel) []byte {
	return []byte(fmt.Sprintf("fc_%s,%s", c.GuildID, c.ChannelID))
}
