package bot

import "github.com/bwmarrin/discordgo"

const commandName = "antispam"

func antispamCommand() *discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageServer)
	dmAllowed := false

	return &discordgo.ApplicationCommand{
		Name:        commandName,
		Description: "Configure automatic spam protection",
		DescriptionLocalizations: &map[discordgo.Locale]string{
			discordgo.French:    "Configurer la protection anti-spam",
			discordgo.EnglishUS: "Configure automatic spam protection",
			discordgo.SpanishES: "Configurar la proteccion anti-spam",
		},
		DefaultMemberPermissions: &manageGuild,
		DMPermission:             &dmAllowed,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show anti-spam settings and top offenders",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "enable",
				Description: "Enable anti-spam for this server",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "disable",
				Description: "Disable anti-spam for this server",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "preset",
				Description: "Set detection sensitivity",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "value",
						Description: "low, medium, or high",
						DescriptionLocalizations: map[discordgo.Locale]string{
							discordgo.French:    "low, medium ou high",
							discordgo.EnglishUS: "low, medium, or high",
							discordgo.SpanishES: "low, medium o high",
						},
						Required: true,
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: "low", Value: "low"},
							{Name: "medium", Value: "medium"},
							{Name: "high", Value: "high"},
						},
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "reset",
				Description: "Clear a member's violation count",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Member to reset",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "report",
				Description: "Enforcement summary for the last 7 days",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "logs",
				Description: "Set the channel that receives anti-spam notices",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:         discordgo.ApplicationCommandOptionChannel,
						Name:         "channel",
						Description:  "Log channel",
						Required:     true,
						ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					},
				},
			},
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := []*discordgo.ApplicationCommand{antispamCommand()}

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
