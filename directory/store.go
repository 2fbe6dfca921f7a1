package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"webhook-notifier/models"
)

const (
	webhookColumns = `user_id, webhook_id, webhook_key, name, network, description,
		callback_url, auth_token, rules, confirmations, active, create_date, update_date`

	selectActive = `SELECT ` + webhookColumns + ` FROM webhooks
		WHERE webhook_key = ? AND network = ? AND active = true ALLOW FILTERING`

	selectOne = `SELECT ` + webhookColumns + ` FROM webhooks
		WHERE user_id = ? AND webhook_id = ?`
)

type Config struct {
	Hosts    []string
	Keyspace string
	LocalDC  string
	Username string
	Password string
	Timeout  time.Duration
}

// Store reads webhooks from the wide-column webhooks table.
type Store struct {
	session *gocql.Session
}

func NewStore(cfg Config) (*Store, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.LocalDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(cfg.LocalDC))
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: cfg.Username, Password: cfg.Password}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Store{session: session}, nil
}

func (s *Store) Close() {
	s.session.Close()
}

// Ping runs a trivial query against the cluster.
func (s *Store) Ping(ctx context.Context) error {
	return s.session.Query(`SELECT now() FROM system.local`).WithContext(ctx).Exec()
}

// Webhooks uses manual paging: setting PageState disables driver prefetch,
// so each call reads exactly one page.
func (s *Store) Webhooks(ctx context.Context, key, network string, pageState []byte, pageSize int) (Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	iter := s.session.Query(selectActive, key, network).
		WithContext(ctx).
		PageSize(pageSize).
		PageState(pageState).
		Iter()
	next := iter.PageState()

	page := Page{Items: make([]models.Webhook, 0, iter.NumRows())}
	scanner := iter.Scanner()
	for scanner.Next() {
		var w models.Webhook
		if err := scanner.Scan(webhookDest(&w)...); err != nil {
			return Page{}, fmt.Errorf("scan webhook: %w", err)
		}
		page.Items = append(page.Items, w)
	}
	if err := scanner.Err(); err != nil {
		return Page{}, err
	}

	if len(next) > 0 {
		page.NextPageState = append([]byte(nil), next...)
	}
	return page, nil
}

func (s *Store) Webhook(ctx context.Context, accountID, webhookID string) (models.Webhook, error) {
	var w models.Webhook
	err := s.session.Query(selectOne, accountID, webhookID).
		WithContext(ctx).
		Scan(webhookDest(&w)...)
	if err != nil {
		if errors.Is(err, gocql.ErrNotFound) {
			return models.Webhook{}, ErrWebhookNotFound
		}
		return models.Webhook{}, err
	}
	return w, nil
}

func webhookDest(w *models.Webhook) []any {
	return []any{
		&w.AccountID, &w.WebhookID, &w.EventKey, &w.Name, &w.Network, &w.Description,
		&w.CallbackURL, &w.AuthToken, &w.Rules, &w.Confirmations, &w.Active, &w.CreateDate, &w.UpdateDate,
	}
}
