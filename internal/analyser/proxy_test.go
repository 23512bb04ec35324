package analyser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProfileAtWrapsAroundFixedList(t *testing.T) {
	t.Parallel()
	require.Equal(t, "desktop-chrome", profileAt(0).name)
	require.Equal(t, "desktop-firefox-like", profileAt(1).name)
	require.Equal(t, "mobile-safari", profileAt(2).name)
	require.Equal(t, "desktop-chrome", profileAt(3).name)
}

func TestProxyClientEnabledRequiresToken(t *testing.T) {
	t.Parallel()
	require.False(t, NewProxyClient(ProxyConfig{}).Enabled())
	require.True(t, NewProxyClient(ProxyConfig{APIToken: "tok"}).Enabled())
}
