package extract

import "testing"

func TestPostID(t *testing.T) {
	cases := map[string]string{
		"https://www.facebook.com/page/posts/123456":              "123456",
		"https://www.facebook.com/page/posts/pfbid0AbCd9":         "pfbid0AbCd9",
		"https://m.facebook.com/story.php?story_fbid=777&id=1":    "777",
		"https://www.facebook.com/page/videos/888999/":            "888999",
		"https://www.facebook.com/reel/445566":                    "445566",
		"https://www.facebook.com/groups/g/permalink/12121/":      "12121",
		"https://www.facebook.com/photo.php?fbid=3434&set=a.1":    "3434",
		"https://www.facebook.com/page/about":                     "",
		"https://www.facebook.com/login/?next=https%3A%2F%2Fa.b": "",
	}
	for raw, want := range cases {
		if got := PostID(raw); got != want {
			t.Errorf("PostID(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestPostIDStableAcrossHostVariants(t *testing.T) {
	desktop := PostID("https://www.facebook.com/page/posts/42?__tn__=x")
	mobile := PostID("https://mbasic.facebook.com/page/posts/42")
	if desktop != mobile || desktop == "" {
		t.Fatalf("identity differs across variants: %q vs %q", desktop, mobile)
	}
}

func TestCanonicalPostURL(t *testing.T) {
	got := CanonicalPostURL("https://m.facebook.com/page/posts/42?__tn__=x&ref=feed")
	want := "https://www.facebook.com/page/posts/42"
	if got != want {
		t.Fatalf("CanonicalPostURL = %q, want %q", got, want)
	}
}

func TestIsLoginWall(t *testing.T) {
	wall := `<html><title>Log into Facebook</title><body>
	You must log in to continue. <button id="loginbutton">Log In</button></body></html>`
	if !IsLoginWall(wall) {
		t.Fatal("interstitial not detected")
	}

	// A single incidental mention is not a wall.
	content := `<html><body><div role="article">Come join Facebook event on Friday</div></body></html>`
	if IsLoginWall(content) {
		t.Fatal("real content misclassified as a wall")
	}
}
