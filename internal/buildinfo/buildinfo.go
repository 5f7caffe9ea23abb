package buildinfo

const Graffiti = " _____ ______  _____  _   _ \n/  ___|| ___ \\|_   _|| \\ | |\n\\ `--. | |_/ /  | |  |  \\| |\n `--. \\|  __/   | |  | . ` |\n/\\__/ /| |     _| |_ | |\\  |\n\\____/ \\_|     \\___/ \\_| \\_/\n\n"

var (
	BuildTag string = "v0.0.0"
	Name     string = "SPIN"
	Time     string = ""
)

type buildinfo struct{}

func (buildinfo) Tag() string {
	return BuildTag
}

func (buildinfo) Name() string {
	return Name
}

func (buildinfo) Time() string {
	return Time
}

var Info buildinfo
