package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/serpwatch/internal/browser"
	"github.com/shehryarbajwa/serpwatch/internal/browser/browsertest"
	"github.com/shehryarbajwa/serpwatch/internal/challenge"
	"github.com/shehryarbajwa/serpwatch/internal/ledger"
	"github.com/shehryarbajwa/serpwatch/internal/search"
	"github.com/shehryarbajwa/serpwatch/internal/session"
	"github.com/shehryarbajwa/serpwatch/pkg/models"
)

var siteProfile = search.Profile{
	Name:            "test",
	SearchURL:       "https://search.test/?q=%s",
	ResultContainer: "#results",
	ResultLinks:     "#results a",
	NextPage:        []search.Locator{{Strategy: "id", Selector: "#next"}},
}

func listing(n int, text string, next bool) *browsertest.Page {
	p := browsertest.NewPage(listingURL(n)).
		WithHTML(fmt.Sprintf("<body><div id=results>%s</div></body>", text)).
		Add("#results", &browsertest.Element{Text: text}).
		Add("#results a", browsertest.Link(text, fmt.Sprintf("https://result.test/%d", n)))
	if next {
		p.Add("#next", browsertest.Link("Next", listingURL(n+1)))
	}
	return p
}

func listingURL(n int) string {
	if n == 1 {
		return siteProfile.SearchFor("123")
	}
	return fmt.Sprintf("https://search.test/?q=123&start=%d", (n-1)*10)
}

// A challenge on page 2 kills the first session; the term is retried through
// the other proxy and clicked on page 1 there.
func TestRun_ChallengeMidScanRetriesThroughAnotherProxy(t *testing.T) {
	builds := []func() *browsertest.Driver{
		func() *browsertest.Driver {
			return browsertest.New(
				listing(1, "nothing", true),
				listing(2, "nothing", true).Add(`div.g-recaptcha`, &browsertest.Element{}))
		},
		func() *browsertest.Driver {
			return browsertest.New(
				listing(1, "a test result", false),
				browsertest.NewPage("https://result.test/1"))
		},
	}
	launches := 0
	launcher := &browsertest.Launcher{
		NewDriver: func(browser.LaunchOptions) *browsertest.Driver {
			build := builds[launches]
			launches++
			return build()
		},
	}

	sessions := session.NewController(launcher, zap.NewNop())
	detector, err := challenge.NewDetector(nil, nil, nil, zap.NewNop())
	require.NoError(t, err)
	protocol := challenge.NewProtocol(detector, sessions, 0, zap.NewNop())
	engine := search.NewEngine(siteProfile, search.Options{
		MaxPages:        5,
		ResultTimeout:   20 * time.Millisecond,
		PageTimeout:     20 * time.Millisecond,
		WindowTimeout:   20 * time.Millisecond,
		PaginateRetries: 1,
	}, sessions, protocol, zap.NewNop())

	pool := newPool("10.0.0.1:8080", "10.0.0.2:8080")
	l := ledger.New()
	orch := New(sessions, engine, l, testOptions(), zap.NewNop(), WithProxies(pool))

	require.NoError(t, orch.Run(context.Background(), []models.SearchTask{task("123", nil, "test")}))

	proxies := launcher.Proxies()
	require.Len(t, proxies, 2)
	assert.NotEqual(t, proxies[0], proxies[1])
	assert.ElementsMatch(t, []string{"10.0.0.1:8080", "10.0.0.2:8080"}, proxies)

	for _, rec := range pool.Records() {
		if rec.Address == proxies[0] {
			assert.Equal(t, uint(1), rec.FailureCount)
		} else {
			assert.Equal(t, uint(0), rec.FailureCount)
		}
	}

	// The challenged browser was torn down before the retry
	assert.True(t, launcher.Drivers[0].Closed())
	assert.Contains(t, launcher.Drivers[1].Navigations, "https://result.test/1")

	r, ok := l.Get("123", "test")
	require.True(t, ok)
	assert.Equal(t, models.FoundAndClicked(1), r)
	assert.Equal(t, "found and clicked on page 1", r.String())
}
