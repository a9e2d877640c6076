package forge

type Branch struct {
	Name string
	SHA  string
}

type Ref struct {
	Ref string
	SHA string
}

type Issue struct {
	Number int
	Title  string
	Body   string
}

type PullRequest struct {
	Number int
	URL    string
	Head   string
	Base   string
}

type Commit struct {
	SHA string
	URL string
}

// FileUpdate is a single-file commit through the contents API. BaseSHA is
// the git blob checksum of the content being replaced.
type FileUpdate struct {
	Path    string
	Message string
	BaseSHA string
	Content string
	Branch  string
}

type NewPullRequest struct {
	Base  string
	Head  string
	Title string
	Body  string
}
