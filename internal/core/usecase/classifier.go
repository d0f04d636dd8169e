package usecase

import (
	"regexp"
	"strings"

	"github.com/kirillkom/command-router/internal/core/domain"
)

const (
	refuseDestructiveReason    = "Refused: destructive host operations are not available through the command router."
	refuseControlSurfaceReason = "Refused: streaming and broadcast controls are handled by the streaming console, not the command router."
	refuseSocialReason         = "Refused: posting to social networks is not supported by the command router."

	catchAllRule = "catch_all"

	appNamePattern = `[a-z0-9][a-z0-9._-]*(?: [a-z0-9][a-z0-9._-]*){0,2}?`
)

// rule is one classifier entry. match returns nil when the rule does not apply,
// otherwise the submatches build needs.
type rule struct {
	name  string
	match func(normalized string) []string
	build func(original string, groups []string) domain.ParsedCommand
}

// Classifier maps free text to exactly one ParsedCommand. Rules are evaluated in order and the first match wins;
// more specific rules sit above the keyword rules they overlap with.
type Classifier struct {
	rules []rule
}

func NewClassifier() *Classifier {
	return &Classifier{rules: defaultRules()}
}

func (c *Classifier) Classify(text string) domain.ParsedCommand {
	normalized := normalizeCommand(text)
	original := collapseSpaces(text)
	for _, r := range c.rules {
		if groups := r.match(normalized); groups != nil {
			return r.build(original, groups)
		}
	}
	return domain.RetrievalQuery{Text: original}
}

// Rules lists rule names in evaluation order.
func (c *Classifier) Rules() []string {
	out := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		out = append(out, r.name)
	}
	return out
}

// MatchRule reports which rule classifies text.
func (c *Classifier) MatchRule(text string) string {
	normalized := normalizeCommand(text)
	for _, r := range c.rules {
		if r.match(normalized) != nil {
			return r.name
		}
	}
	return catchAllRule
}

var (
	greetingRe = regexp.MustCompile(`^(hi|hello|hey|hiya|yo|howdy|greetings|good (morning|afternoon|evening))( there)?( (system|assistant|router|computer|buddy|friend))?[!.]*$`)

	destructiveRe = regexp.MustCompile(`\brm\s+-(rf|fr)\b|\bformat\s+(the\s+|my\s+)?(disk|drive|hard drive|partition|c:)|\bwipe\s+(the\s+|my\s+)?(disk|drive|system|everything|computer)\b|\b(shutdown|shut down|power off|reboot|restart)\s+(the\s+|my\s+)?(computer|machine|system|pc|host|server)\b|^(shutdown|reboot|poweroff)$|\bdelete\s+(all|every)\s+(files|folders|data)\b`)

	// App names are at most three words so that compound requests fall through to the keyword rules.
	launchRe = regexp.MustCompile(`^(?:please\s+)?(?:launch|open)\s+(?:up\s+)?(?:the\s+)?(` + appNamePattern + `)(?:\s+app)?$`)
	closeRe  = regexp.MustCompile(`^(?:please\s+)?(?:close|quit|kill)\s+(?:the\s+)?(` + appNamePattern + `)(?:\s+app)?$`)

	gitExplainRe = regexp.MustCompile(`\b(explain|summari[sz]e|review|describe|walk me through)\b.*\b(last|latest|recent|current|my)\s+(commit|commits|diff|changes)\b`)
	gitCommandRe = regexp.MustCompile(`^git\s+(status|log|diff|branch|fetch|pull|show)\b\s*(.*)$`)
	gitBranchRe  = regexp.MustCompile(`\bwhat branch am i on\b|\bwhich branch am i on\b|\bcurrent (git )?branch\b`)

	diagnoseRe = regexp.MustCompile(`^(?:please\s+)?(?:diagnose|troubleshoot)\s+(?:the\s+|my\s+)?(.+?)[?!.]*$`)

	diskUsageRe  = regexp.MustCompile(`\bdisk (usage|space)\b|\bfree (disk )?space\b|\bhow full is (the|my) (disk|drive)\b`)
	processesRe  = regexp.MustCompile(`\b(list|show)( the| running| all)* processes\b|\bwhat'?s running\b|\btop processes\b`)
	systemInfoRe = regexp.MustCompile(`\b(cpu|memory|ram) (usage|load)\b|\bsystem (info|information|stats)\b|\bhow much (memory|ram)\b|\buptime\b`)

	statusRe = regexp.MustCompile(`\bwhat'?s new\b|\bwhats new\b|\bany (updates|news)\b|\bstatus (report|update)\b|\bwhat did i miss\b`)

	helpRe    = regexp.MustCompile(`^(help|commands|capabilities|what can you do|what do you do|show (me )?(the )?(help|commands))[?!.]*$`)
	timeRe    = regexp.MustCompile(`^(what time is it|what'?s the time|what is the time|current time|time)[?!.]*$`)
	dateRe    = regexp.MustCompile(`^(what'?s the date|what is the date|what'?s today'?s date|what day is (it|today)|today'?s date|date)[?!.]*$`)
	healthRe  = regexp.MustCompile(`^(health|health check|healthcheck|ping|are you (alive|up|ok)|(service|system) health)[?!.]*$`)
	versionRe = regexp.MustCompile(`^(version|what version are you|which version|what version is (this|running))[?!.]*$`)

	controlSurfaceRe = regexp.MustCompile(`\b(stream|streaming|broadcast|broadcasting|go live|going live|obs|twitch|scene|scenes|overlay)\b`)
	socialRe         = regexp.MustCompile(`\b(tweet|twitter|post (this |it )?(to|on)|share (this |it )?on|facebook|instagram|tiktok|mastodon|bluesky|linkedin)\b`)
)

func defaultRules() []rule {
	return []rule{
		{
			name:  "greeting",
			match: submatch(greetingRe),
			build: func(string, []string) domain.ParsedCommand { return domain.Greeting{} },
		},
		{
			name:  "refuse_destructive",
			match: submatch(destructiveRe),
			build: refusal(refuseDestructiveReason),
		},
		{
			name:  "launch_app",
			match: submatch(launchRe),
			build: func(_ string, g []string) domain.ParsedCommand {
				return domain.ToolOperation{Name: "launch_app", Args: map[string]string{"app": strings.TrimSpace(g[1])}}
			},
		},
		{
			name:  "close_app",
			match: submatch(closeRe),
			build: func(_ string, g []string) domain.ParsedCommand {
				return domain.ToolOperation{Name: "close_app", Args: map[string]string{"app": strings.TrimSpace(g[1])}}
			},
		},
		{
			name:  "git_explain",
			match: submatch(gitExplainRe),
			build: func(original string, g []string) domain.ParsedCommand {
				tool := "git_log"
				if g[3] == "diff" || g[3] == "changes" {
					tool = "git_diff"
				}
				return domain.ToolOperationWithContext{Name: tool, Args: map[string]string{}, Query: original}
			},
		},
		{
			name: "git_command",
			match: func(s string) []string {
				if g := gitCommandRe.FindStringSubmatch(s); g != nil {
					return g
				}
				if gitBranchRe.MatchString(s) {
					return []string{s, "branch", ""}
				}
				return nil
			},
			build: func(_ string, g []string) domain.ParsedCommand {
				args := map[string]string{}
				if extra := strings.TrimSpace(g[2]); extra != "" {
					args["args"] = extra
				}
				return domain.ToolOperation{Name: "git_" + g[1], Args: args}
			},
		},
		{
			name:  "diagnose",
			match: submatch(diagnoseRe),
			build: func(original string, g []string) domain.ParsedCommand {
				return domain.ToolOperationWithContext{
					Name:  "diagnostics",
					Args:  map[string]string{"target": strings.TrimSpace(g[1])},
					Query: original,
				}
			},
		},
		{
			name: "system_diagnostics",
			match: func(s string) []string {
				switch {
				case diskUsageRe.MatchString(s):
					return []string{s, "disk_usage"}
				case processesRe.MatchString(s):
					return []string{s, "list_processes"}
				case systemInfoRe.MatchString(s):
					return []string{s, "system_info"}
				}
				return nil
			},
			build: func(_ string, g []string) domain.ParsedCommand {
				return domain.ToolOperation{Name: g[1], Args: map[string]string{}}
			},
		},
		{
			name:  "status_query",
			match: submatch(statusRe),
			build: func(original string, _ []string) domain.ParsedCommand { return domain.StatusQuery{Text: original} },
		},
		{
			name: "static_info",
			match: func(s string) []string {
				for _, c := range []struct {
					re    *regexp.Regexp
					topic domain.StaticInfoTopic
				}{
					{helpRe, domain.InfoHelp},
					{timeRe, domain.InfoTime},
					{dateRe, domain.InfoDate},
					{healthRe, domain.InfoHealth},
					{versionRe, domain.InfoVersion},
				} {
					if c.re.MatchString(s) {
						return []string{s, string(c.topic)}
					}
				}
				return nil
			},
			build: func(_ string, g []string) domain.ParsedCommand {
				return domain.StaticInfo{Topic: domain.StaticInfoTopic(g[1])}
			},
		},
		{
			name:  "refuse_control_surface",
			match: submatch(controlSurfaceRe),
			build: refusal(refuseControlSurfaceReason),
		},
		{
			name:  "refuse_social",
			match: submatch(socialRe),
			build: refusal(refuseSocialReason),
		},
		{
			name:  catchAllRule,
			match: func(s string) []string { return []string{s} },
			build: func(original string, _ []string) domain.ParsedCommand { return domain.RetrievalQuery{Text: original} },
		},
	}
}

func submatch(re *regexp.Regexp) func(string) []string {
	return re.FindStringSubmatch
}

func refusal(reason string) func(string, []string) domain.ParsedCommand {
	return func(string, []string) domain.ParsedCommand { return domain.Refused{Reason: reason} }
}

var quoteReplacer = strings.NewReplacer("‘", "'", "’", "'", "“", `"`, "”", `"`)

// normalizeCommand lowercases, straightens quotes and collapses whitespace.
func normalizeCommand(text string) string {
	return strings.ToLower(collapseSpaces(quoteReplacer.Replace(text)))
}

func collapseSpaces(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
