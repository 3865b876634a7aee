package stealth

import (
	"fmt"
	"strings"
)

// InitScript renders the JavaScript injected into every new document
// before page scripts run. It pins the navigator/screen/WebGL surface to
// the fingerprint so the scripted values agree with the HTTP-level ones.
func InitScript(fp Fingerprint) string {
	var b strings.Builder

	b.WriteString(`Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
`)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'platform', {get: () => %q});\n", fp.Platform)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'vendor', {get: () => %q});\n", fp.Vendor)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'hardwareConcurrency', {get: () => %d});\n", fp.HardwareConcurrency)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'deviceMemory', {get: () => %d});\n", fp.DeviceMemory)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'language', {get: () => %q});\n", fp.Locale)
	fmt.Fprintf(&b, "Object.defineProperty(navigator, 'languages', {get: () => [%q, 'en']});\n", fp.Locale)

	// Chrome-only globals must track the browser family: their absence
	// on a Chrome UA, or presence on Firefox/Safari, is a mismatch.
	if fp.ChromeFamily {
		b.WriteString(`window.chrome = window.chrome || {runtime: {}, loadTimes: function(){}, csi: function(){}};
Object.defineProperty(navigator, 'plugins', {get: () => [
  {name: 'PDF Viewer'}, {name: 'Chrome PDF Viewer'}, {name: 'Chromium PDF Viewer'},
  {name: 'Microsoft Edge PDF Viewer'}, {name: 'WebKit built-in PDF'}
]});
`)
	} else {
		b.WriteString(`delete window.chrome;
`)
	}

	fmt.Fprintf(&b, `Object.defineProperty(screen, 'width', {get: () => %d});
Object.defineProperty(screen, 'height', {get: () => %d});
Object.defineProperty(screen, 'availWidth', {get: () => %d});
Object.defineProperty(screen, 'availHeight', {get: () => %d});
`, fp.ScreenWidth, fp.ScreenHeight, fp.ScreenWidth, fp.ScreenHeight-40)

	// 37445/37446 are UNMASKED_VENDOR_WEBGL / UNMASKED_RENDERER_WEBGL.
	fmt.Fprintf(&b, `(() => {
  const spoof = (proto) => {
    const orig = proto.getParameter;
    proto.getParameter = function(p) {
      if (p === 37445) return %q;
      if (p === 37446) return %q;
      return orig.call(this, p);
    };
  };
  if (window.WebGLRenderingContext) spoof(WebGLRenderingContext.prototype);
  if (window.WebGL2RenderingContext) spoof(WebGL2RenderingContext.prototype);
})();
`, fp.WebGLVendor, fp.WebGLRenderer)

	// Per-session deterministic canvas noise. Fingerprint probes read
	// small canvases; real image work reads large ones, so only small
	// reads are perturbed.
	fmt.Fprintf(&b, `(() => {
  let seed = %d;
  const next = () => {
    seed = (seed * 1103515245 + 12345) %% 2147483648;
    return seed / 2147483648;
  };
  const orig = CanvasRenderingContext2D.prototype.getImageData;
  CanvasRenderingContext2D.prototype.getImageData = function(x, y, w, h) {
    const data = orig.call(this, x, y, w, h);
    if (w < 500 && h < 500) {
      for (let i = 0; i < data.data.length; i += 97) {
        data.data[i] = data.data[i] ^ (next() < 0.5 ? 0 : 1);
      }
    }
    return data;
  };
})();
`, fp.CanvasSeed%2147483648)

	return b.String()
}
