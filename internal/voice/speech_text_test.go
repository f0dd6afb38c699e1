package voice

import "testing"

func TestSpeakableText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"drops emoji and markdown markers", "Sure \U0001F60A **let's** do this / now.", "Sure let's do this now."},
		{"keeps link label without url", "Read [the guide](https://example.com/derivatives) first.", "Read the guide first."},
		{"removes code blocks and inline code", "```bash\nnpm run dev\n```\nThen run `make test` ✅", "Then run"},
		{"drops list markers", "Two branches:\n- differential calculus\n2. integral calculus", "Two branches: differential calculus integral calculus"},
		{"collapses symbol runs", "Hello***world///again", "Hello world again"},
		{"blank input", "  \n\t ", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := speakableText(tc.in); got != tc.want {
				t.Fatalf("speakableText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
