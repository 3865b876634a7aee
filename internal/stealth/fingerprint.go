// Package stealth manufactures internally-coherent synthetic browser
// identities and human-paced timing for sessions.
package stealth

import (
	"math/rand"
)

// Fingerprint is one coherent browser identity. All fields are drawn
// together from a single profile so they never contradict each other; a
// mismatched pair (a Mac user-agent reporting a Windows platform) is a
// stronger bot signal than a static consistent identity.
type Fingerprint struct {
	UserAgent           string
	Platform            string
	Vendor              string
	ChromeFamily        bool
	ScreenWidth         int
	ScreenHeight        int
	ViewportWidth       int
	ViewportHeight      int
	WebGLVendor         string
	WebGLRenderer       string
	CanvasSeed          int64
	HardwareConcurrency int
	DeviceMemory        int
	Timezone            string
	Locale              string
}

type profile struct {
	userAgent    string
	platform     string
	vendor       string
	chromeFamily bool
}

var profiles = []profile{
	{
		userAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		platform:     "Win32",
		vendor:       "Google Inc.",
		chromeFamily: true,
	},
	{
		userAgent:    "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		platform:     "MacIntel",
		vendor:       "Google Inc.",
		chromeFamily: true,
	},
	{
		userAgent:    "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		platform:     "Linux x86_64",
		vendor:       "Google Inc.",
		chromeFamily: true,
	},
	{
		userAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		platform:     "Win32",
		vendor:       "",
		chromeFamily: false,
	},
	{
		userAgent:    "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		platform:     "MacIntel",
		vendor:       "Apple Computer, Inc.",
		chromeFamily: false,
	},
}

type webglPair struct {
	vendor   string
	renderer string
}

var webglPairs = []webglPair{
	{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 630 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon RX 580 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	{"Intel Inc.", "Intel Iris OpenGL Engine"},
	{"Apple Inc.", "Apple M1"},
}

type screenSize struct {
	w int
	h int
}

var screens = []screenSize{
	{1920, 1080},
	{1680, 1050},
	{1536, 864},
	{2560, 1440},
	{1440, 900},
}

var timezones = []string{
	"America/New_York",
	"America/Chicago",
	"America/Los_Angeles",
	"Europe/London",
	"Europe/Berlin",
}

var locales = []string{"en-US", "en-GB", "en-US", "en-US", "de-DE"}

// Generate draws one coherent fingerprint. The viewport is always at or
// inside the screen bounds.
func Generate(rng *rand.Rand) Fingerprint {
	p := profiles[rng.Intn(len(profiles))]
	gl := webglPairs[rng.Intn(len(webglPairs))]
	sc := screens[rng.Intn(len(screens))]
	tzIdx := rng.Intn(len(timezones))

	concurrency := []int{4, 8, 8, 12, 16}[rng.Intn(5)]
	memory := []int{4, 8, 8, 16}[rng.Intn(4)]

	return Fingerprint{
		UserAgent:           p.userAgent,
		Platform:            p.platform,
		Vendor:              p.vendor,
		ChromeFamily:        p.chromeFamily,
		ScreenWidth:         sc.w,
		ScreenHeight:        sc.h,
		ViewportWidth:       sc.w - []int{0, 0, 80, 160}[rng.Intn(4)],
		ViewportHeight:      sc.h - []int{0, 0, 40, 80}[rng.Intn(4)],
		WebGLVendor:         gl.vendor,
		WebGLRenderer:       gl.renderer,
		CanvasSeed:          rng.Int63(),
		HardwareConcurrency: concurrency,
		DeviceMemory:        memory,
		Timezone:            timezones[tzIdx],
		Locale:              locales[tzIdx],
	}
}
