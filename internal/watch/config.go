package watch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-spin/spin/internal/geom"
	"github.com/go-spin/spin/internal/httputil"
)

type Config struct {
	AllowWatches         bool          `envconfig:"SPIN_ALLOW_WATCHES" default:"true"`
	Routes               Routes        `envconfig:"SPIN_WATCH_ROUTES"`
	Interval             time.Duration `envconfig:"SPIN_WATCH_INTERVAL" default:"5s"`
	RequestTimeout       time.Duration `envconfig:"SPIN_WATCH_REQUEST_TIMEOUT" default:"30s"`
	MaxConcurrentRequest int           `envconfig:"SPIN_WATCH_MAX_CONCURRENT_REQUEST" default:"64"`
}

type Routes []Route

func (rs *Routes) Decode(value string) error {
	routes := []Route{}
	if err := json.Unmarshal([]byte(value), &routes); err != nil {
		return err
	}
	*rs = routes
	return nil
}

// Route subscribes a webhook URL to every point indexed into the
// namespace inside the axis-aligned region spanned by Min and Max.
type Route struct {
	Namespace  string                    `json:"namespace"`
	Min        geom.Point                `json:"min"`
	Max        geom.Point                `json:"max"`
	URL        string                    `json:"url"`
	HTTPConfig httputil.HTTPClientConfig `json:"httpConfig"`
}

func (r Route) Validate() error {
	if r.Namespace == "" {
		return fmt.Errorf("watch route: namespace must not be empty")
	}
	if r.URL == "" {
		return fmt.Errorf("watch route: url must not be empty")
	}
	if len(r.Min) != len(r.Max) {
		return fmt.Errorf("watch route: min and max dimensions differ")
	}
	return nil
}

// Contains reports whether the vector falls inside the route's region,
// bounds inclusive. A route with an empty region matches every vector
// of its namespace.
func (r Route) Contains(namespace string, vec geom.Point) bool {
	if namespace != r.Namespace {
		return false
	}
	if len(r.Min) == 0 && len(r.Max) == 0 {
		return true
	}
	if len(vec) != len(r.Min) {
		return false
	}
	for i := range vec {
		if vec[i] < r.Min[i] || vec[i] > r.Max[i] {
			return false
		}
	}
	return true
}
