package status

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"torvpn/pkg/hopplan"
	"torvpn/pkg/journal"
	"torvpn/pkg/model"
	"torvpn/pkg/ratelimit"
	"torvpn/pkg/supervisor"
	"torvpn/pkg/torctl"
)

type torPorts struct {
	SocksPort   int `json:"socks_port"`
	DNSPort     int `json:"dns_port"`
	ControlPort int `json:"control_port"`
}

type statusBody struct {
	CurrentIndex     int            `json:"current_index"`
	Total            int            `json:"total"`
	SecondsRemaining int64          `json:"seconds_remaining"`
	NextEpochMs      int64          `json:"next_epoch_ms"`
	CurrentHop       *model.HopItem `json:"current_hop"`
	Tor              torPorts       `json:"tor"`
	ExitIP           *string        `json:"exit_ip"`
}

type planBody struct {
	Randomized          bool                `json:"randomized"`
	OrderIndices        []int               `json:"order_indices"`
	CurrentIndexInOrder int                 `json:"current_index_in_order"`
	SecondsRemaining    int64               `json:"seconds_remaining"`
	Total               int                 `json:"total"`
	Upcoming            []model.UpcomingHop `json:"upcoming"`
}

type healthBody struct {
	Summary  string              `json:"summary"`
	Outcomes []model.StepOutcome `json:"outcomes"`
}

type circuitsBody struct {
	Circuits string `json:"circuits"`
}

type journalBody struct {
	Entries []model.AuditEntry `json:"entries"`
}

// Journal listing bounds.
const (
	defaultJournalLimit = 20
	maxJournalLimit     = 200
)

// authedRoutes need a credential on non-loopback listeners, and only accept their method.
var authedRoutes = map[string]string{
	"/control/exitclear": http.MethodPost,
	"/control/exitset":   http.MethodPost,
	"/status/health":     http.MethodGet,
	"/status/circuits":   http.MethodGet,
	"/status/journal":    http.MethodGet,
}

func (s *Server) route(ctx context.Context, req Request) response {
	if method, ok := authedRoutes[req.Path]; ok {
		cred, _ := Credential(req)
		if err := AuthCheck(s.cfg.Status.Listen, cred, LoadSecret(s.stateDir)); err != nil {
			log.Infof("forbidden %s %s from %s", req.Method, req.Path, req.Peer)
			return replyError(http.StatusForbidden, "forbidden")
		}
		if req.Method != method {
			return replyError(http.StatusMethodNotAllowed, "method not allowed")
		}
	}

	var (
		resp response
		err  error
	)
	switch req.Path {
	case "/control/exitclear":
		resp, err = s.handleExitClear(ctx, req)
	case "/control/exitset":
		resp, err = s.handleExitSet(ctx, req)
	case "/status/health":
		resp, err = s.handleHealth(ctx)
	case "/status/circuits":
		resp, err = s.handleCircuits(ctx)
	case "/status/journal":
		resp, err = s.handleJournal(ctx, req)
	case "/status/plan":
		resp = s.handlePlan()
	case "/status":
		resp = s.handleStatus(ctx, req)
	default:
		resp = replyError(http.StatusNotFound, "not found")
	}
	if err != nil {
		log.Warningf("%s %s: %v", req.Method, req.Path, err)
		return replyError(http.StatusBadGateway, err.Error())
	}
	return resp
}

func (s *Server) control(ctx context.Context, fn func(c *torctl.Conn) error) error {
	c, cancel, err := supervisor.OpenControl(ctx, s.cfg, s.stateDir)
	if err != nil {
		return err
	}
	defer cancel()
	defer c.Close()
	return fn(c)
}

func (s *Server) handleExitClear(ctx context.Context, req Request) (response, error) {
	var outcomes []model.StepOutcome
	err := s.control(ctx, func(c *torctl.Conn) error {
		outcomes = c.ClearExitPolicy()
		outcomes = append(outcomes, model.NewOutcome("SIGNAL NEWNYM", c.SignalNewnym()))
		return nil
	})
	s.audit(ctx, req, "exitclear", "", outcomes, err)
	if err != nil {
		return response{}, err
	}
	return reply(http.StatusOK, okBody), nil
}

func (s *Server) handleExitSet(ctx context.Context, req Request) (response, error) {
	cc, _ := req.QueryValue("cc")
	policy := model.ParseCountryList(cc)

	var outcomes []model.StepOutcome
	err := s.control(ctx, func(c *torctl.Conn) error {
		out, err := c.ApplyExitPolicy(policy)
		outcomes = out
		if err != nil {
			return err
		}
		outcomes = append(outcomes, model.NewOutcome("SIGNAL NEWNYM", c.SignalNewnym()))
		return nil
	})
	s.audit(ctx, req, "exitset", policy.Nodes(), outcomes, err)
	if err != nil {
		return response{}, err
	}
	log.Infof("exit policy set to %q by %s", policy.Nodes(), req.Peer)
	return reply(http.StatusOK, okBody), nil
}

func (s *Server) handleHealth(ctx context.Context) (response, error) {
	var body healthBody
	err := s.control(ctx, func(c *torctl.Conn) error {
		body.Summary, body.Outcomes = c.HealthSummary()
		return nil
	})
	if err != nil {
		return response{}, err
	}
	return reply(http.StatusOK, body), nil
}

func (s *Server) handleCircuits(ctx context.Context) (response, error) {
	var body circuitsBody
	err := s.control(ctx, func(c *torctl.Conn) error {
		var err error
		body.Circuits, err = c.Circuits()
		return err
	})
	if err != nil {
		return response{}, err
	}
	return reply(http.StatusOK, body), nil
}

func (s *Server) handleJournal(ctx context.Context, req Request) (response, error) {
	limit := defaultJournalLimit
	if v, ok := req.QueryValue("limit"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return replyError(http.StatusBadRequest, "invalid limit"), nil
		}
		limit = n
	}
	if limit > maxJournalLimit {
		limit = maxJournalLimit
	}
	entries, err := s.journal.Recent(ctx, limit)
	if errors.Is(err, journal.ErrNoHistory) {
		return replyError(http.StatusNotFound, err.Error()), nil
	}
	if err != nil {
		return response{}, err
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	return reply(http.StatusOK, journalBody{Entries: entries}), nil
}

func (s *Server) handlePlan() response {
	st := hopplan.Load(s.hopStore)
	seq := s.cfg.Hop.Sequence
	order := st.Order
	if order == nil {
		order = []int{}
	}
	return reply(http.StatusOK, planBody{
		Randomized:          st.Randomized,
		OrderIndices:        order,
		CurrentIndexInOrder: st.Idx,
		SecondsRemaining:    hopplan.SecondsRemaining(st, s.now()),
		Total:               len(seq),
		Upcoming:            hopplan.Upcoming(st, seq),
	})
}

func (s *Server) handleStatus(ctx context.Context, req Request) response {
	if !IsLoopback(s.cfg.Status.Listen) {
		if err := s.limiter.Check(req.Peer); err != nil {
			if !errors.Is(err, ratelimit.ErrRateLimited) {
				log.Warningf("rate limiter: %v", err)
			}
			return replyError(http.StatusTooManyRequests, "too many requests")
		}
	}

	st := hopplan.Load(s.hopStore)
	seq := s.cfg.Hop.Sequence
	body := statusBody{
		CurrentIndex:     st.Idx,
		Total:            len(seq),
		SecondsRemaining: hopplan.SecondsRemaining(st, s.now()),
		NextEpochMs:      st.NextEpochMs,
		CurrentHop:       hopplan.Current(st.Idx, seq),
		Tor: torPorts{
			SocksPort:   s.cfg.Tor.SocksPort,
			DNSPort:     s.cfg.Tor.DNSPort,
			ControlPort: s.cfg.Tor.ControlPort,
		},
	}
	if ip, err := s.probe(ctx); err != nil {
		log.Debugf("exit probe: %v", err)
	} else {
		body.ExitIP = &ip
	}
	return reply(http.StatusOK, body)
}

func (s *Server) audit(ctx context.Context, req Request, action, target string, outcomes []model.StepOutcome, err error) {
	e := journal.NewEntry(ratelimit.PeerIP(req.Peer), action, target, outcomes)
	if err != nil {
		e.Detail = err.Error()
	} else if q := strings.TrimSpace(req.Query); q != "" {
		e.Detail = redactToken(q)
	}
	journal.RecordBestEffort(ctx, s.journal, e)
}

// redactToken hides the token query parameter before the query is journaled.
func redactToken(query string) string {
	parts := strings.Split(query, "&")
	for i, p := range parts {
		if strings.HasPrefix(p, "token=") {
			parts[i] = "token=REDACTED"
		}
	}
	return strings.Join(parts, "&")
}
