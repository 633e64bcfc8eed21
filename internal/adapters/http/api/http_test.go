package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/draftwatch/internal/adapters/http/api"
	"github.com/okian/draftwatch/internal/adapters/repository"
	service "github.com/okian/draftwatch/internal/app"
	"github.com/okian/draftwatch/internal/domain/consensus"
	"github.com/okian/draftwatch/internal/domain/model"
	"github.com/okian/draftwatch/internal/domain/pattern"
	"github.com/okian/draftwatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newMux(svc *service.Service) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(svc, api.WithLogger(logger.Nop())).Register(context.Background(), mux)
	return mux
}

func newService() *service.Service {
	now := time.Date(2026, 9, 6, 16, 0, 0, 0, time.UTC)
	return service.New(repository.NewMemoryStore(),
		service.WithLogger(logger.Nop()),
		service.WithWorkerCount(1),
		service.WithAggregationSchedule(0, 0),
		service.WithConsensus(consensus.Static{}),
		service.WithClock(func() time.Time { return now }),
		service.WithAggregatorOptions(pattern.WithClock(func() time.Time { return now })),
	)
}

func do(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, http.NoBody)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode[T any](w *httptest.ResponseRecorder) T {
	var v T
	So(json.NewDecoder(w.Body).Decode(&v), ShouldBeNil)
	return v
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

const alicePick = `{
	"session_id": "s-1",
	"pick_number": 1,
	"participant_id": "alice",
	"item_id": "item-1",
	"timestamp": "2026-09-06T13:01:00Z",
	"location": {"latitude": 39.9612, "longitude": -82.9988},
	"network_address": "203.0.113.7"
}`

const bobPick = `{
	"session_id": "s-1",
	"pick_number": 2,
	"participant_id": "bob",
	"item_id": "item-2",
	"timestamp": "2026-09-06T13:02:00Z",
	"location": {"latitude": 39.9612, "longitude": -82.9988},
	"network_address": "203.0.113.7"
}`

func TestPicksHandler(t *testing.T) {
	Convey("Given the API over an idle service", t, func() {
		mux := newMux(newService())

		Convey("When a valid pick is posted", func() {
			w := do(mux, http.MethodPost, "/picks", alicePick)

			Convey("Then it is accepted", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Header().Get(api.RequestIDHeader), ShouldNotBeEmpty)
			})
		})

		Convey("When the same pick is posted twice", func() {
			do(mux, http.MethodPost, "/picks", alicePick)
			w := do(mux, http.MethodPost, "/picks", alicePick)

			Convey("Then the redelivery is accepted as well", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
			})
		})

		Convey("When the body is not JSON", func() {
			w := do(mux, http.MethodPost, "/picks", `{invalid json`)

			Convey("Then it returns bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode[errorBody](w).Code, ShouldEqual, "bad_request")
			})
		})

		Convey("When required fields are missing", func() {
			w := do(mux, http.MethodPost, "/picks", `{"pick_number": 1}`)

			Convey("Then the message names the fields by their JSON names", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				body := decode[errorBody](w)
				So(body.Message, ShouldContainSubstring, "session_id")
				So(body.Message, ShouldContainSubstring, "participant_id")
			})
		})

		Convey("When the network address is longer than 256 bytes", func() {
			w := do(mux, http.MethodPost, "/picks", strings.Replace(alicePick, "203.0.113.7", strings.Repeat("x", 257), 1))

			Convey("Then it returns bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode[errorBody](w).Message, ShouldContainSubstring, "network_address")
			})
		})

		Convey("When the latitude is out of range", func() {
			w := do(mux, http.MethodPost, "/picks", strings.Replace(alicePick, "39.9612", "91", 1))

			Convey("Then it returns bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode[errorBody](w).Message, ShouldContainSubstring, "location.latitude")
			})
		})

		Convey("When the timestamp is malformed", func() {
			w := do(mux, http.MethodPost, "/picks", strings.Replace(alicePick, "2026-09-06T13:01:00Z", "yesterday", 1))

			Convey("Then it returns bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the method does not match the route", func() {
			w := do(mux, http.MethodGet, "/picks", "")

			Convey("Then the mux refuses it", func() {
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
			})
		})
	})
}

func TestPicksOpaqueNetworkAddress(t *testing.T) {
	Convey("Given the API over a store it can inspect", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		mux := newMux(service.New(store,
			service.WithLogger(logger.Nop()),
			service.WithWorkerCount(1),
			service.WithAggregationSchedule(0, 0),
			service.WithConsensus(consensus.Static{}),
		))

		Convey("When a pick carries a network identifier that is not an IP", func() {
			w := do(mux, http.MethodPost, "/picks", strings.Replace(alicePick, "203.0.113.7", "wifi-bssid:ab12", 1))

			Convey("Then it is accepted and logged with the identifier unchanged", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				picks, err := store.ListPicks(ctx, "s-1")
				So(err, ShouldBeNil)
				So(picks, ShouldHaveLength, 1)
				So(picks[0].NetworkAddress, ShouldEqual, "wifi-bssid:ab12")
			})
		})
	})
}

func TestSessionHandlers(t *testing.T) {
	Convey("Given the API over a running service", t, func() {
		ctx := context.Background()
		svc := newService()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Stop(ctx) }()
		mux := newMux(svc)

		Convey("When two participants draft from the same spot", func() {
			So(do(mux, http.MethodPost, "/picks", alicePick).Code, ShouldEqual, http.StatusAccepted)
			So(eventually(func() bool {
				return do(mux, http.MethodGet, "/sessions/s-1/integrity", "").Code == http.StatusOK
			}), ShouldBeTrue)
			So(do(mux, http.MethodPost, "/picks", bobPick).Code, ShouldEqual, http.StatusAccepted)
			So(eventually(func() bool {
				w := do(mux, http.MethodGet, "/sessions/s-1/integrity", "")
				var s model.SessionIntegritySummary
				return json.NewDecoder(w.Body).Decode(&s) == nil && s.UniqueFlaggedPairs == 1
			}), ShouldBeTrue)

			Convey("Then reviewing before completion conflicts", func() {
				w := do(mux, http.MethodPost, "/sessions/s-1/review", "")
				So(w.Code, ShouldEqual, http.StatusConflict)
			})

			Convey("Then completion, scoring and review flow through", func() {
				w := do(mux, http.MethodPost, "/sessions/s-1/complete", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode[model.SessionIntegritySummary](w).Status, ShouldEqual, model.IntegrityCompleted)

				So(eventually(func() bool { return svc.GetStats().Pools[1].Processed >= 1 }), ShouldBeTrue)

				w = do(mux, http.MethodPost, "/sessions/s-1/score", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				result := decode[model.SessionRiskResult](w)
				So(result.Status, ShouldEqual, model.ResultAnalyzed)
				So(result.Pairs, ShouldHaveLength, 1)
				So(result.Pairs[0].Pair, ShouldResemble, model.PairKey{Low: "alice", High: "bob"})

				w = do(mux, http.MethodPost, "/sessions/s-1/review", "")
				So(w.Code, ShouldEqual, http.StatusOK)

				w = do(mux, http.MethodGet, "/sessions/s-1/risk", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode[model.SessionRiskResult](w).Status, ShouldEqual, model.ResultReviewed)
			})
		})

		Convey("When reading a session that never existed", func() {
			Convey("Then integrity and risk are not found", func() {
				So(do(mux, http.MethodGet, "/sessions/ghost/integrity", "").Code, ShouldEqual, http.StatusNotFound)
				So(do(mux, http.MethodGet, "/sessions/ghost/risk", "").Code, ShouldEqual, http.StatusNotFound)
				So(do(mux, http.MethodPost, "/sessions/ghost/score", "").Code, ShouldEqual, http.StatusNotFound)
				So(do(mux, http.MethodPost, "/sessions/ghost/review", "").Code, ShouldEqual, http.StatusNotFound)
			})
		})
	})
}

func TestPairsHandlers(t *testing.T) {
	Convey("Given the API over an empty store", t, func() {
		mux := newMux(newService())

		Convey("When listing pairs without a level", func() {
			w := do(mux, http.MethodGet, "/pairs", "")

			Convey("Then high is assumed and the list is empty", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var body struct {
					Level string `json:"level"`
					Count int    `json:"count"`
				}
				So(json.NewDecoder(w.Body).Decode(&body), ShouldBeNil)
				So(body.Level, ShouldEqual, "high")
				So(body.Count, ShouldEqual, 0)
			})
		})

		Convey("When listing pairs with an unknown level", func() {
			w := do(mux, http.MethodGet, "/pairs?level=severe", "")

			Convey("Then it returns bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When reading pair histories", func() {
			Convey("Then a self pair is rejected and an unknown pair is not found", func() {
				So(do(mux, http.MethodGet, "/pairs/alice/alice/history", "").Code, ShouldEqual, http.StatusBadRequest)
				So(do(mux, http.MethodGet, "/pairs/alice/bob/history", "").Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When aggregation is triggered", func() {
			Convey("Then a bad lookback is rejected", func() {
				So(do(mux, http.MethodPost, "/aggregations?lookback=soon", "").Code, ShouldEqual, http.StatusBadRequest)
				So(do(mux, http.MethodPost, "/aggregations?lookback=-1h", "").Code, ShouldEqual, http.StatusBadRequest)
			})

			Convey("Then a valid run reports its summary", func() {
				w := do(mux, http.MethodPost, "/aggregations?lookback=2160h", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				summary := decode[pattern.Summary](w)
				So(summary.RunID, ShouldNotBeEmpty)
				So(summary.PairsAnalyzed, ShouldEqual, 0)
			})
		})
	})
}

func TestOperationalHandlers(t *testing.T) {
	Convey("Given the API", t, func() {
		mux := newMux(newService())

		Convey("When scraping /healthz", func() {
			w := do(mux, http.MethodGet, "/healthz", "")

			Convey("Then metrics are served", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})

		Convey("When reading /stats", func() {
			w := do(mux, http.MethodGet, "/stats", "")

			Convey("Then queue and pool stats are reported", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				stats := decode[service.Stats](w)
				So(stats.Started, ShouldBeFalse)
				So(stats.Queues, ShouldHaveLength, 2)
				So(stats.Pools, ShouldHaveLength, 2)
			})
		})

		Convey("When the caller supplies a request id", func() {
			req := httptest.NewRequest(http.MethodGet, "/stats", http.NoBody)
			req.Header.Set(api.RequestIDHeader, "req-42")
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then it is echoed back", func() {
				So(w.Header().Get(api.RequestIDHeader), ShouldEqual, "req-42")
			})
		})
	})
}
