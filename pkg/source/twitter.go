package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elonfeng/sigint/pkg/model"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	xAPIBaseURL   = "https://api.twitter.com/2"
	xTweetFields  = "id,text,author_id,created_at,public_metrics,entities"
	xUserFields   = "id,username,name"
	xMaxResults   = 100
	xDefaultLimit = 20
)

// XClient reads social signals from the X API v2.
type XClient struct {
	client     *http.Client
	baseURL    string
	token      string
	maxResults int
	limiter    *rate.Limiter
	logger     zerolog.Logger

	mu      sync.Mutex
	userIDs map[string]string
}

// XOptions configures an XClient.
type XOptions struct {
	BaseURL    string
	Token      string
	MaxResults int
	// Interval is the minimum spacing between API requests.
	Interval time.Duration
	Client   *http.Client
	Logger   zerolog.Logger
}

// NewXClient creates a new X API client.
func NewXClient(opts XOptions) *XClient {
	if opts.BaseURL == "" {
		opts.BaseURL = xAPIBaseURL
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = xDefaultLimit
	}
	if opts.MaxResults > xMaxResults {
		opts.MaxResults = xMaxResults
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if opts.Interval > 0 {
		limit = rate.Every(opts.Interval)
	}
	return &XClient{
		client:     opts.Client,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		maxResults: opts.MaxResults,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     opts.Logger,
		userIDs:    make(map[string]string),
	}
}

// FetchAccounts reads the recent timeline of every account. Accounts that
// fail are skipped and returned in failed.
func (x *XClient) FetchAccounts(ctx context.Context, accounts []string) (signals []model.Signal, failed []string) {
	signals = make([]model.Signal, 0)
	for _, account := range accounts {
		account = strings.TrimPrefix(strings.TrimSpace(account), "@")
		if account == "" {
			continue
		}
		got, err := x.FetchTimeline(ctx, account)
		if err != nil {
			x.logger.Warn().Err(err).Str("account", account).Msg("x timeline failed")
			failed = append(failed, account)
			continue
		}
		signals = append(signals, got...)
	}
	return signals, failed
}

// FetchTimeline reads the recent posts of a single account.
func (x *XClient) FetchTimeline(ctx context.Context, username string) ([]model.Signal, error) {
	userID, err := x.lookupUser(ctx, username)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("max_results", fmt.Sprintf("%d", x.maxResults))
	params.Set("tweet.fields", xTweetFields)
	params.Set("user.fields", xUserFields)
	params.Set("expansions", "author_id")

	var resp xTimelineResponse
	if err := x.get(ctx, "/users/"+url.PathEscape(userID)+"/tweets", params, &resp); err != nil {
		return nil, fmt.Errorf("x timeline @%s: %w", username, err)
	}

	authors := make(map[string]string, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		authors[u.ID] = u.Username
	}

	signals := make([]model.Signal, 0, len(resp.Data))
	for _, t := range resp.Data {
		signals = append(signals, t.toSignal(authors, username))
	}
	return signals, nil
}

func (x *XClient) lookupUser(ctx context.Context, username string) (string, error) {
	key := strings.ToLower(username)
	x.mu.Lock()
	id, ok := x.userIDs[key]
	x.mu.Unlock()
	if ok {
		return id, nil
	}

	params := url.Values{}
	params.Set("user.fields", xUserFields)

	var resp struct {
		Data *xUser `json:"data"`
	}
	if err := x.get(ctx, "/users/by/username/"+url.PathEscape(username), params, &resp); err != nil {
		return "", fmt.Errorf("x lookup @%s: %w", username, err)
	}
	if resp.Data == nil || resp.Data.ID == "" {
		return "", fmt.Errorf("x lookup @%s: user not found", username)
	}

	x.mu.Lock()
	x.userIDs[key] = resp.Data.ID
	x.mu.Unlock()
	return resp.Data.ID, nil
}

func (x *XClient) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := x.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := x.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+x.token)
	req.Header.Set("User-Agent", "sigint/1.0")

	resp, err := x.client.Do(req)
	if err != nil {
		return fmt.Errorf("call x api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return fmt.Errorf("x api status %d: %v", resp.StatusCode, errResp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode x response: %w", err)
	}
	return nil
}

type xUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type xTimelineResponse struct {
	Data     []xTweet `json:"data"`
	Includes struct {
		Users []xUser `json:"users"`
	} `json:"includes"`
}

type xTweet struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	AuthorID  string `json:"author_id"`
	CreatedAt string `json:"created_at"`
	Entities  struct {
		Hashtags []struct {
			Tag string `json:"tag"`
		} `json:"hashtags"`
		Mentions []struct {
			Username string `json:"username"`
		} `json:"mentions"`
		Cashtags []struct {
			Tag string `json:"tag"`
		} `json:"cashtags"`
	} `json:"entities"`
	PublicMetrics struct {
		RetweetCount int `json:"retweet_count"`
		LikeCount    int `json:"like_count"`
		ReplyCount   int `json:"reply_count"`
		QuoteCount   int `json:"quote_count"`
	} `json:"public_metrics"`
}

func (t xTweet) toSignal(authors map[string]string, fallbackAuthor string) model.Signal {
	author := authors[t.AuthorID]
	if author == "" {
		author = fallbackAuthor
	}

	created := time.Now().UTC()
	if ts, err := time.Parse(time.RFC3339, t.CreatedAt); err == nil {
		created = ts.UTC()
	}

	s := model.Signal{
		ID:        t.ID,
		Author:    author,
		Content:   t.Text,
		CreatedAt: created,
		Hashtags:  make([]string, 0, len(t.Entities.Hashtags)),
		Mentions:  make([]string, 0, len(t.Entities.Mentions)),
		Cashtags:  make([]string, 0, len(t.Entities.Cashtags)),
		Engagement: model.Engagement{
			Retweets: t.PublicMetrics.RetweetCount,
			Likes:    t.PublicMetrics.LikeCount,
			Replies:  t.PublicMetrics.ReplyCount,
			Quotes:   t.PublicMetrics.QuoteCount,
		},
	}
	for _, h := range t.Entities.Hashtags {
		s.Hashtags = append(s.Hashtags, h.Tag)
	}
	for _, m := range t.Entities.Mentions {
		s.Mentions = append(s.Mentions, m.Username)
	}
	for _, c := range t.Entities.Cashtags {
		s.Cashtags = append(s.Cashtags, c.Tag)
	}
	return s
}
