// Package service exposes a read-only HTTP API over the rendezvous engine:
// network stats, peer listings, region distribution, liveness health and
// prometheus metrics. It never mutates the registry.
package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mosaicnetworks/rendezvous/src/rendezvous"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// recentWindow bounds the /recent listing.
const recentWindow = 5 * time.Minute

// Service serves the read-only HTTP API.
type Service struct {
	bindAddress string
	engine      *rendezvous.Engine
	logger      *logrus.Entry
}

// NewService instantiates the service and registers its handlers with the
// DefaultServerMux of the http package. It is possible that another server in
// the same process is simultaneously using the DefaultServerMux, in which
// case the handlers are accessible from both servers.
func NewService(bindAddress string, engine *rendezvous.Engine, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		engine:      engine,
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering rendezvous API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	http.HandleFunc("/peers/", s.makeHandler(s.GetPeer))
	http.HandleFunc("/regions", s.makeHandler(s.GetRegions))
	http.HandleFunc("/recent", s.makeHandler(s.GetRecent))
	http.HandleFunc("/closest", s.makeHandler(s.GetClosest))
	http.HandleFunc("/health", s.makeHandler(s.GetHealth))
	http.Handle("/metrics", promhttp.Handler())
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving rendezvous API")

	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats returns the aggregate network statistics.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Stats())
}

// GetPeers returns the public view of all registered peers.
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	recs := s.engine.Registry().Snapshot(nil)

	peers := make([]rendezvous.PeerInfo, 0, len(recs))
	for _, rec := range recs {
		peers = append(peers, rendezvous.PeerInfo{
			PeerID:         rec.PeerID,
			NetAddr:        rec.NetAddr,
			LastSeen:       rec.LastSeen,
			Classification: rec.Classification,
		})
	}

	writeJSON(w, peers)
}

// GetPeer returns a single peer by id, from a path of the form /peers/<id>.
func (s *Service) GetPeer(w http.ResponseWriter, r *http.Request) {
	peerID := strings.TrimPrefix(r.URL.Path, "/peers/")

	info, ok := s.engine.Lookup(peerID)
	if !ok {
		http.Error(w, "peer not found", http.StatusNotFound)
		return
	}

	writeJSON(w, info)
}

// GetRegions returns the live peer count per region.
func (s *Service) GetRegions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Registry().RegionCounts())
}

// GetRecent returns peers registered within the recent window.
func (s *Service) GetRecent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Recent(recentWindow))
}

// GetClosest answers proximity queries: /closest?key=<identityKey>&k=<n>.
func (s *Service) GetClosest(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		http.Error(w, "missing key parameter", http.StatusBadRequest)
		return
	}

	k := 0
	if param := r.URL.Query().Get("k"); param != "" {
		parsed, err := strconv.Atoi(param)
		if err != nil {
			http.Error(w, "invalid k parameter", http.StatusBadRequest)
			return
		}
		k = parsed
	}

	writeJSON(w, s.engine.Closest(key, k))
}

// GetHealth reports liveness of the service itself plus the current peer
// count.
func (s *Service) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status": "ok",
		"peers":  s.engine.Registry().Count(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(v)
}
