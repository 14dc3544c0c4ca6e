package util

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	IsDebug bool

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true).
			Underline(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4")).
			Bold(true)

	optionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#45B7D1")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4757")).
			Bold(true)

	debugErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B")).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF4757")).
			Padding(1, 2)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFA726")).
			Bold(true)
)

// SetDebugMode sets the debug mode
func SetDebugMode(debug bool) {
	IsDebug = debug
}

// ErrorHandler returns a stylized error message. In debug mode the full
// wrapped error chain (with pkg/errors stack traces) is printed.
func ErrorHandler(err error) string {
	if IsDebug {
		styledHeader := errorStyle.Render("🚨 DEBUG ERROR 🔍")
		styledError := debugErrorStyle.Render(fmt.Sprintf("%+v", err))
		return fmt.Sprintf("%s\n%s", styledHeader, styledError)
	}

	styledError := errorStyle.Render(fmt.Sprintf("❌ %v", err))
	styledHint := warningStyle.Render("💡 run the program with -debug to see details")
	return fmt.Sprintf("%s\n%s", styledError, styledHint)
}

// Helper prints the help message for one of the server binaries.
func Helper(binary, description string) {
	fmt.Println(titleStyle.Render("🎌 " + binary + " - " + description))
	fmt.Println()
	fmt.Println(helpStyle.Render("📖 Usage:"))
	fmt.Println("  " + binary + " " + optionStyle.Render("[options]"))
	fmt.Println()
	fmt.Println(helpStyle.Render("⚙️  Options:"))
	for _, line := range []string{
		"  " + optionStyle.Render("-config <file>") + " 📄 Read configuration from a YAML file",
		"  " + optionStyle.Render("-debug") + "         🐛 Enable debug mode with detailed information",
		"  " + optionStyle.Render("-help, -h") + "      📚 Show this help message",
		"  " + optionStyle.Render("-version") + "       ℹ️  Show version information",
	} {
		fmt.Println(line)
	}
	fmt.Println()
	fmt.Println(helpStyle.Render("🌱 Environment:") + " every setting can be overridden with GOANIME_<SECTION>_<KEY>")
	fmt.Println()
}
