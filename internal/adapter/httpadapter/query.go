package httpadapter

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"

	"github.com/couchcryptid/ghcn-station-etl/internal/domain"
	"github.com/couchcryptid/ghcn-station-etl/internal/observability"
)

const (
	defaultRadiusKm = 50
	defaultLimit    = 5
	maxLimit        = 100
)

// stationMatch is the JSON form of one nearest-station result.
type stationMatch struct {
	StationID   string  `json:"station_id"`
	StationName *string `json:"station_name"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	DistanceKm  float64 `json:"distance_km"`
	FirstYear   int     `json:"first_year"`
	LastYear    int     `json:"last_year"`
}

type nearestResponse struct {
	Query    nearestParams  `json:"query"`
	Stations []stationMatch `json:"stations"`
}

type nearestParams struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	RadiusKm float64 `json:"radius_km"`
	YearFrom int     `json:"year_from"`
	YearTo   int     `json:"year_to"`
	Limit    int     `json:"limit"`
}

type queryHandler struct {
	table      *domain.StationTable
	aggregates AggregateReader
	cache      *lruCache[[]stationMatch]
	logger     *slog.Logger
	metrics    *observability.Metrics
}

func (h *queryHandler) handleNearest(w http.ResponseWriter, r *http.Request) {
	params, err := parseNearestParams(r.URL.Query())
	if err != nil {
		h.metrics.NearestQueries.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stations, generation := h.table.Snapshot()
	key := nearestCacheKey(generation, params)

	matches, ok := h.cache.get(key)
	if ok {
		h.metrics.QueryCache.WithLabelValues("hit").Inc()
	} else {
		h.metrics.QueryCache.WithLabelValues("miss").Inc()
		found, err := domain.Nearest(stations, domain.NearestQuery{
			Lat:      params.Lat,
			Lon:      params.Lon,
			RadiusKm: params.RadiusKm,
			YearFrom: params.YearFrom,
			YearTo:   params.YearTo,
			MaxCount: params.Limit,
		})
		if errors.Is(err, domain.ErrInvalidQuery) {
			h.metrics.NearestQueries.WithLabelValues("invalid").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			h.logger.Error("nearest query failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		matches = toStationMatches(found)
		h.cache.put(key, matches)
	}

	outcome := "ok"
	if len(matches) == 0 {
		outcome = "empty"
	}
	h.metrics.NearestQueries.WithLabelValues(outcome).Inc()
	writeJSON(w, http.StatusOK, nearestResponse{Query: params, Stations: matches})
}

func (h *queryHandler) handleMonthly(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !domain.ValidStationID(id) {
		writeError(w, http.StatusBadRequest, "invalid station id")
		return
	}
	rows, err := h.aggregates.ReadMonthly(id)
	if h.aggregateError(w, id, err) {
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *queryHandler) handleYearly(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !domain.ValidStationID(id) {
		writeError(w, http.StatusBadRequest, "invalid station id")
		return
	}
	rows, err := h.aggregates.ReadYearly(id)
	if h.aggregateError(w, id, err) {
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// aggregateError writes the response for a failed aggregate read and reports
// whether it did.
func (h *queryHandler) aggregateError(w http.ResponseWriter, id string, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no aggregates for station "+id)
		return true
	}
	h.logger.Error("read aggregates failed", "station_id", id, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
	return true
}

// nearestCacheKey identifies a query against one table generation. Floats are
// formatted exactly so distinct points never share an entry.
func nearestCacheKey(generation uint64, p nearestParams) string {
	exact := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return fmt.Sprintf("%d|%s|%s|%s|%d|%d|%d", generation,
		exact(p.Lat), exact(p.Lon), exact(p.RadiusKm), p.YearFrom, p.YearTo, p.Limit)
}

func toStationMatches(found []domain.Match) []stationMatch {
	out := make([]stationMatch, 0, len(found))
	for _, m := range found {
		out = append(out, stationMatch{
			StationID:   m.Station.ID,
			StationName: m.Station.Name,
			Lat:         m.Station.Latitude,
			Lon:         m.Station.Longitude,
			DistanceKm:  m.DistanceKm,
			FirstYear:   m.Station.FirstYear,
			LastYear:    m.Station.LastYear,
		})
	}
	return out
}

func parseNearestParams(q url.Values) (nearestParams, error) {
	p := nearestParams{
		RadiusKm: defaultRadiusKm,
		YearFrom: 0,
		YearTo:   domain.Now().Year(),
		Limit:    defaultLimit,
	}

	var err error
	if p.Lat, err = requiredFloat(q, "lat"); err != nil {
		return p, err
	}
	if p.Lon, err = requiredFloat(q, "lon"); err != nil {
		return p, err
	}
	if p.Lat < -90 || p.Lat > 90 {
		return p, errors.New("lat must be within [-90, 90]")
	}
	if p.Lon < -180 || p.Lon > 180 {
		return p, errors.New("lon must be within [-180, 180]")
	}

	if s := q.Get("radius_km"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return p, errors.New("radius_km must be a positive number")
		}
		p.RadiusKm = v
	}
	if s := q.Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 || v > maxLimit {
			return p, fmt.Errorf("limit must be an integer in [1, %d]", maxLimit)
		}
		p.Limit = v
	}
	if s := q.Get("year_from"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return p, errors.New("year_from must be an integer")
		}
		p.YearFrom = v
	}
	if s := q.Get("year_to"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			return p, errors.New("year_to must be an integer")
		}
		p.YearTo = v
	}
	if p.YearFrom > p.YearTo {
		return p, errors.New("year_from must not be after year_to")
	}
	return p, nil
}

func requiredFloat(q url.Values, name string) (float64, error) {
	s := q.Get(name)
	if s == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return v, nil
}
