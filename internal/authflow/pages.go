package authflow

import (
	"fmt"
	"html"
	"net/url"
)

// successPage is served after a successful authorization response. It tries
// to hand focus back to the application through the registered URL scheme,
// first via location.href and then via a hidden iframe for browsers that
// block script-initiated scheme navigation.
func successPage() string {
	deepLink := buildDeepLink("auth/success", nil)
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Signed in</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif;
         display: flex; align-items: center; justify-content: center;
         height: 100vh; margin: 0; background: #f5f6fa; color: #2d3436; }
  .card { background: #fff; border-radius: 12px; padding: 48px 56px;
          box-shadow: 0 4px 24px rgba(0,0,0,.08); text-align: center; }
  .check { font-size: 48px; color: #00b894; }
  h1 { font-size: 22px; margin: 16px 0 8px; }
  p { color: #636e72; margin: 0; }
</style>
</head>
<body>
<div class="card">
  <div class="check">&#10003;</div>
  <h1>Sign-in complete</h1>
  <p>Returning you to Ecan. You can close this window.</p>
</div>
<iframe id="app" style="display:none"></iframe>
<script>
  var link = %q;
  try { window.location.href = link; } catch (e) {}
  setTimeout(function () {
    document.getElementById("app").src = link;
  }, 400);
</script>
</body>
</html>`, deepLink)
}

// errorPage is served when the provider reports an error or the response is
// malformed. It counts down five seconds and attempts to close itself.
func errorPage(code, description string) string {
	params := url.Values{}
	params.Set("error", code)
	deepLink := buildDeepLink("auth/error", params)

	detail := description
	if detail == "" {
		detail = "The identity provider did not complete the sign-in."
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Sign-in failed</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif;
         display: flex; align-items: center; justify-content: center;
         height: 100vh; margin: 0; background: #f5f6fa; color: #2d3436; }
  .card { background: #fff; border-radius: 12px; padding: 48px 56px;
          box-shadow: 0 4px 24px rgba(0,0,0,.08); text-align: center; }
  .cross { font-size: 48px; color: #d63031; }
  h1 { font-size: 22px; margin: 16px 0 8px; }
  p { color: #636e72; margin: 0 0 12px; }
  .count { font-size: 13px; color: #b2bec3; }
</style>
</head>
<body>
<div class="card">
  <div class="cross">&#10007;</div>
  <h1>Sign-in failed</h1>
  <p>%s</p>
  <p class="count">This window closes in <span id="n">5</span>&nbsp;s.</p>
</div>
<script>
  try { window.location.href = %q; } catch (e) {}
  var n = 5;
  var t = setInterval(function () {
    n -= 1;
    document.getElementById("n").textContent = n;
    if (n <= 0) { clearInterval(t); window.close(); }
  }, 1000);
</script>
</body>
</html>`, html.EscapeString(detail), deepLink)
}
